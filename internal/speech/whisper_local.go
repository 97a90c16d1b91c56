package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultStartTimeout = 2 * time.Minute

// WhisperCpp transcribes locally with a resident whisper.cpp server. The
// server process is started once by NewWhisperCpp, holds the model in memory
// and serves every call until Close.
type WhisperCpp struct {
	ffmpeg    string
	modelPath string
	tempDir   string
	baseURL   string
	runner    commandRunner
	client    *http.Client
	log       *zap.Logger

	proc      *exec.Cmd
	output    *tailBuffer
	exited    chan struct{}
	closeOnce sync.Once
}

// WhisperOptions configures a WhisperCpp backend.
type WhisperOptions struct {
	Bin          string // whisper-server executable
	FFmpeg       string
	Model        string // size name ("base"), file name or path
	ModelDir     string
	Language     string
	TempDir      string
	Host         string // defaults to 127.0.0.1
	Port         int    // 0 picks a free port
	StartTimeout time.Duration
}

// NewWhisperCpp resolves the model, starts the server and waits until the
// model is loaded and the server answers.
func NewWhisperCpp(ctx context.Context, opts WhisperOptions, log *zap.Logger) (*WhisperCpp, error) {
	return newWhisperCpp(ctx, opts, execRunner{}, exec.Command, log)
}

func newWhisperCpp(
	ctx context.Context,
	opts WhisperOptions,
	runner commandRunner,
	command func(name string, args ...string) *exec.Cmd,
	log *zap.Logger,
) (*WhisperCpp, error) {
	modelPath, err := resolveModelPath(opts.Model, opts.ModelDir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		if opts.Port, err = freePort(opts.Host); err != nil {
			return nil, fmt.Errorf("pick whisper server port: %w", err)
		}
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}

	w := &WhisperCpp{
		ffmpeg:    opts.FFmpeg,
		modelPath: modelPath,
		tempDir:   opts.TempDir,
		baseURL:   "http://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		runner:    runner,
		client:    &http.Client{},
		log:       log,
		output:    &tailBuffer{max: 8 << 10},
		exited:    make(chan struct{}),
	}

	w.proc = command(opts.Bin, buildServerArgs(modelPath, opts.Host, opts.Port, opts.Language)...)
	w.proc.Stdout = w.output
	w.proc.Stderr = w.output
	if err := w.proc.Start(); err != nil {
		return nil, fmt.Errorf("start whisper server %s: %w", opts.Bin, err)
	}
	go func() {
		_ = w.proc.Wait()
		close(w.exited)
	}()

	start := time.Now()
	if err := w.waitReady(ctx, opts.StartTimeout); err != nil {
		_ = w.Close()
		return nil, err
	}
	log.Info("whisper model loaded",
		zap.String("model", modelPath),
		zap.String("server", w.baseURL),
		zap.Duration("elapsed", time.Since(start)),
	)
	return w, nil
}

// ModelPath returns the resolved model file.
func (w *WhisperCpp) ModelPath() string { return w.modelPath }

// Close stops the server. It is safe to call more than once.
func (w *WhisperCpp) Close() error {
	w.closeOnce.Do(func() {
		select {
		case <-w.exited:
			return
		default:
		}
		if w.proc.Process != nil {
			_ = w.proc.Process.Kill()
		}
		<-w.exited
	})
	return nil
}

func (w *WhisperCpp) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/", nil)
		if err != nil {
			return err
		}
		if resp, err := w.client.Do(req); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
		}

		select {
		case <-w.exited:
			return fmt.Errorf("whisper server exited during startup (exit=%d): %s",
				w.proc.ProcessState.ExitCode(), w.output.String())
		case <-ctx.Done():
			return fmt.Errorf("whisper server not ready after %s: %w", timeout, ctx.Err())
		case <-tick.C:
		}
	}
}

func (w *WhisperCpp) Transcribe(ctx context.Context, filePath string) (string, error) {
	if _, err := os.Stat(filePath); err != nil {
		return "", fmt.Errorf("cannot access input audio: %w", err)
	}
	select {
	case <-w.exited:
		return "", fmt.Errorf("whisper server is not running: %s", w.output.String())
	default:
	}

	workDir, err := os.MkdirTemp(w.tempDir, "whisper-*")
	if err != nil {
		return "", fmt.Errorf("create whisper workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			w.log.Warn("whisper workspace cleanup failed", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	wavPath := filepath.Join(workDir, "input-16k-mono.wav")
	if err := toWAV(ctx, w.runner, w.ffmpeg, filePath, wavPath, 16000); err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}

	return w.infer(ctx, wavPath)
}

func (w *WhisperCpp) infer(ctx context.Context, wavPath string) (string, error) {
	audio, err := os.ReadFile(wavPath)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	_ = mw.WriteField("response_format", "json")
	_ = mw.WriteField("temperature", "0.0")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper server request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper server error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	if out.Error != "" {
		return "", errors.New("whisper server: " + out.Error)
	}
	return strings.TrimSpace(out.Text), nil
}

// resolveModelPath maps a size name, file name or path to a model file.
// A directory selects its first .bin/.gguf model.
func resolveModelPath(model, modelDir string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("whisper model is required")
	}

	candidates := []string{model}
	if !filepath.IsAbs(model) {
		candidates = append(candidates,
			filepath.Join(modelDir, model),
			filepath.Join(modelDir, "ggml-"+model+".bin"),
		)
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			return c, nil
		}
		if found, err := firstModelIn(c); err == nil {
			return found, nil
		}
	}
	return "", fmt.Errorf("whisper model %q not found (looked in %s)", model, modelDir)
}

func firstModelIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files in %s", dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

// normalizeLanguage maps "auto" and empty to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

func buildServerArgs(modelPath, host string, port int, language string) []string {
	args := []string{
		"-m", modelPath,
		"--host", host,
		"--port", strconv.Itoa(port),
		"-bs", "5",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
