package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"
)

// fakeRunner simulates command execution.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

type fakeSTT struct {
	text string
	err  error
}

func (f fakeSTT) Transcribe(context.Context, string) (string, error) { return f.text, f.err }

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// TestServiceTranscribeJoinsSegments checks whitespace collapsing of segments.
func TestServiceTranscribeJoinsSegments(t *testing.T) {
	svc := NewService(fakeSTT{text: "  i has went \n to   store  "})
	got, err := svc.Transcribe(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "i has went to store" {
		t.Fatalf("text = %q", got)
	}
}

// TestServiceTranscribePropagatesError checks no retry and wrapped passthrough.
func TestServiceTranscribePropagatesError(t *testing.T) {
	boom := errors.New("cannot decode")
	svc := NewService(fakeSTT{err: boom})
	if _, err := svc.Transcribe(context.Background(), "a.wav"); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

// TestResolveModelPathBySizeName maps "base" to ggml-base.bin.
func TestResolveModelPathBySizeName(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "ggml-base.bin"), "model")

	got, err := resolveModelPath("base", dir)
	if err != nil {
		t.Fatalf("resolveModelPath() error = %v", err)
	}
	if got != filepath.Join(dir, "ggml-base.bin") {
		t.Fatalf("model = %q", got)
	}
}

// TestResolveModelPathMissing reports a missing model at construction.
func TestResolveModelPathMissing(t *testing.T) {
	_, err := NewWhisperCpp(context.Background(), WhisperOptions{Model: "large", ModelDir: t.TempDir()}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

// TestHelperProcess stands in for whisper-server when re-executed by
// helperCommand. It is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	if os.Getenv("HELPER_MODE") == "crash" {
		fmt.Fprintln(os.Stderr, "whisper_init_from_file: failed to load model")
		os.Exit(3)
	}
	if f := os.Getenv("HELPER_LOADS_FILE"); f != "" {
		fh, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintln(fh, strings.Join(args, " "))
			fh.Close()
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>whisper.cpp server</html>"))
	})
	mux.HandleFunc("/inference", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"no file field"}`))
			return
		}
		audio, _ := io.ReadAll(file)
		if r.FormValue("response_format") != "json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = fmt.Fprintf(w, `{"text":" heard %s \n"}`, audio)
	})
	addr := net.JoinHostPort(argValue(args, "--host"), argValue(args, "--port"))
	_ = http.ListenAndServe(addr, mux)
	os.Exit(0)
}

func helperCommand(t *testing.T, mode, loadsFile string) func(name string, args ...string) *exec.Cmd {
	t.Helper()
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_MODE="+mode,
			"HELPER_LOADS_FILE="+loadsFile,
		)
		return cmd
	}
}

// ffmpegRunner fakes ffmpeg by writing marker bytes as the converted WAV.
func ffmpegRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if argValue(args, "-ar") != "16000" {
				t.Errorf("ffmpeg args = %v, want 16k", args)
			}
			mustWriteFile(t, args[len(args)-1], "wav-"+filepath.Base(argValue(args, "-i")))
			return commandResult{}, nil
		},
	}
}

// TestWhisperCppLoadsModelOnce starts the server once and reuses it.
func TestWhisperCppLoadsModelOnce(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	mustWriteFile(t, filepath.Join(modelDir, "ggml-small.bin"), "model")
	work := filepath.Join(root, "tmp")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	loads := filepath.Join(root, "loads.txt")

	w, err := newWhisperCpp(context.Background(), WhisperOptions{
		Bin: "whisper-server", FFmpeg: "ffmpeg", Model: "small", ModelDir: modelDir,
		Language: "en", TempDir: work, StartTimeout: 20 * time.Second,
	}, ffmpegRunner(t), helperCommand(t, "serve", loads), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newWhisperCpp() error = %v", err)
	}
	defer w.Close()

	for _, name := range []string{"one.mp3", "two.mp3"} {
		input := filepath.Join(root, name)
		mustWriteFile(t, input, "mp3")
		got, err := w.Transcribe(context.Background(), input)
		if err != nil {
			t.Fatalf("Transcribe(%s) error = %v", name, err)
		}
		if got != "heard wav-"+name {
			t.Fatalf("text = %q", got)
		}
	}

	content, err := os.ReadFile(loads)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 1 {
		t.Fatalf("server started %d times, want 1", len(lines))
	}
	started := strings.Fields(lines[0])
	if argValue(started, "-m") != w.ModelPath() || argValue(started, "-l") != "en" {
		t.Fatalf("server args = %v", started)
	}

	entries, _ := os.ReadDir(work)
	if len(entries) != 0 {
		t.Fatalf("workspace not cleaned: %d entries left", len(entries))
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(root, "three.mp3")
	mustWriteFile(t, input, "mp3")
	if _, err := w.Transcribe(context.Background(), input); err == nil {
		t.Fatal("expected error after Close")
	}
}

// TestWhisperCppStartupFailure surfaces the server output.
func TestWhisperCppStartupFailure(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "ggml-base.bin"), "model")

	_, err := newWhisperCpp(context.Background(), WhisperOptions{
		Bin: "whisper-server", Model: "base", ModelDir: root, TempDir: root, StartTimeout: 20 * time.Second,
	}, ffmpegRunner(t), helperCommand(t, "crash", ""), nil)
	if err == nil || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("error = %v, want server output", err)
	}
}

// TestWhisperCppDecodeFailure surfaces ffmpeg stderr.
func TestWhisperCppDecodeFailure(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "ggml-base.bin"), "model")
	input := filepath.Join(root, "bad.mp3")
	mustWriteFile(t, input, "junk")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			return commandResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
		},
	}
	w, err := newWhisperCpp(context.Background(), WhisperOptions{
		Bin: "whisper-server", FFmpeg: "ffmpeg", Model: "base", ModelDir: root, TempDir: root, StartTimeout: 20 * time.Second,
	}, runner, helperCommand(t, "serve", ""), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	_, err = w.Transcribe(context.Background(), input)
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("error = %v, want ffmpeg stderr", err)
	}
}

// TestBuildServerArgs omits -l for auto detection.
func TestBuildServerArgs(t *testing.T) {
	args := buildServerArgs("/m/ggml-base.bin", "127.0.0.1", 8081, "auto")
	if argValue(args, "-l") != "" {
		t.Fatalf("args = %v, want no -l", args)
	}
	if argValue(args, "--port") != "8081" || argValue(args, "-m") != "/m/ggml-base.bin" {
		t.Fatalf("args = %v", args)
	}
}

// TestTailBufferKeepsEnd bounds captured server output.
func TestTailBufferKeepsEnd(t *testing.T) {
	b := &tailBuffer{max: 5}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := b.String(); got != "cdefg" {
		t.Fatalf("tail = %q", got)
	}
}

// TestAudioDurationParsesFFprobe checks ffprobe output parsing.
func TestAudioDurationParsesFFprobe(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			return commandResult{Stdout: "12.480000\n"}, nil
		},
	}
	got, err := audioDuration(context.Background(), runner, "ffprobe", "a.wav")
	if err != nil {
		t.Fatalf("audioDuration() error = %v", err)
	}
	if got != 12.48 {
		t.Fatalf("duration = %v", got)
	}
}

// TestBuildFFmpegArgsKeepsRate omits -ar when the rate is zero.
func TestBuildFFmpegArgsKeepsRate(t *testing.T) {
	args := buildFFmpegArgs("in.mp3", "out.wav", 0)
	if argValue(args, "-ar") != "" {
		t.Fatalf("args = %v, want no -ar", args)
	}
	if args[len(args)-1] != "out.wav" {
		t.Fatalf("last arg = %q", args[len(args)-1])
	}
}

// TestDeepgramTranscribe checks request headers and response decoding.
func TestDeepgramTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "audio/mpeg" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hello there"}]}]}}`))
	}))
	defer srv.Close()

	input := filepath.Join(t.TempDir(), "a.mp3")
	mustWriteFile(t, input, "mp3")

	c := NewDeepgramClient("dg-key")
	c.url = srv.URL
	got, err := c.Transcribe(context.Background(), input)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "hello there" {
		t.Fatalf("text = %q", got)
	}
}

// TestDeepgramErrorStatus returns the body in the error.
func TestDeepgramErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"err_msg":"Invalid credentials."}`))
	}))
	defer srv.Close()

	input := filepath.Join(t.TempDir(), "a.wav")
	mustWriteFile(t, input, "wav")

	c := NewDeepgramClient("bad")
	c.url = srv.URL
	_, err := c.Transcribe(context.Background(), input)
	if err == nil || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("error = %v", err)
	}
}

// TestOpenAIWhisperTranscribe checks model selection and response decoding.
func TestOpenAIWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != openai.Whisper1 {
			t.Errorf("model = %q, want %q", got, openai.Whisper1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"i has went to store"}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	c := NewOpenAIWhisper(openai.NewClientWithConfig(cfg), "base")

	input := filepath.Join(t.TempDir(), "sample.mp3")
	mustWriteFile(t, input, "mp3")

	got, err := c.Transcribe(context.Background(), input)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "i has went to store" {
		t.Fatalf("text = %q", got)
	}
}
