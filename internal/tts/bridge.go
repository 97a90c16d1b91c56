package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Vovarama1992/voxa/internal/speech"
)

// DefaultTimeout is the wall-clock ceiling of one synthesis run.
const DefaultTimeout = 300 * time.Second

// waitDelay bounds how long Wait keeps draining pipes after the child is gone.
const waitDelay = 5 * time.Second

// Options configures a Bridge.
type Options struct {
	Root    string // IndexTTS checkout
	Python  string // interpreter of the isolated environment
	FFmpeg  string
	Timeout time.Duration
}

// Bridge runs IndexTTS2 in its own interpreter and environment and maps the
// process contract (JSON args, stdout marker, exit code, output file) to Go.
type Bridge struct {
	root     string
	modelDir string
	python   string
	timeout  time.Duration
	log      *zap.Logger

	command func(ctx context.Context, program string) *exec.Cmd
	convert func(ctx context.Context, in, out string) error

	ready atomic.Bool
	mu    sync.Mutex
}

// NewBridge builds a Bridge. A zero Timeout means DefaultTimeout.
func NewBridge(opts Options, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	root := opts.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	b := &Bridge{
		root:     root,
		modelDir: filepath.Join(root, "checkpoints"),
		python:   opts.Python,
		timeout:  opts.Timeout,
		log:      log.With(zap.String("component", "tts")),
	}
	b.command = func(ctx context.Context, program string) *exec.Cmd {
		return exec.CommandContext(ctx, b.python, "-c", program)
	}
	ffmpeg := opts.FFmpeg
	b.convert = func(ctx context.Context, in, out string) error {
		return speech.ToWAV(ctx, ffmpeg, in, out, 0)
	}
	return b
}

// Ready reports whether synthesis can be invoked. A passing probe is cached
// for the lifetime of the Bridge; a failing one is retried on the next call.
func (b *Bridge) Ready() error {
	if b.ready.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready.Load() {
		return nil
	}

	if err := b.probe(); err != nil {
		b.log.Warn("IndexTTS2 not available", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b.ready.Store(true)
	b.log.Info("IndexTTS2 environment verified", zap.String("root", b.root))
	return nil
}

func (b *Bridge) probe() error {
	info, err := os.Stat(b.python)
	if err != nil {
		return fmt.Errorf("isolated interpreter not found at %s (run: cd %s && uv sync --all-extras)", b.python, b.root)
	}
	if info.IsDir() {
		return fmt.Errorf("isolated interpreter %s is a directory", b.python)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("isolated interpreter %s is not executable", b.python)
	}

	cfg := filepath.Join(b.modelDir, "config.yaml")
	if _, err := os.Stat(cfg); err != nil {
		return fmt.Errorf("model assets not found at %s (hf download IndexTeam/IndexTTS-2 --local-dir=checkpoints)", cfg)
	}
	return nil
}

// Synthesize renders req.Text() in the voice of req.ReferenceAudio() into
// req.OutputPath(). It returns ErrUnavailable without invoking anything when
// the probe fails, and *SynthesisError for every invocation failure.
func (b *Bridge) Synthesize(ctx context.Context, req SynthesisRequest) (Outcome, error) {
	if err := b.Ready(); err != nil {
		return Outcome{}, err
	}

	log := b.log.With(zap.String("output", req.OutputPath()))
	log.Info("generating speech",
		zap.String("reference", req.ReferenceAudio()),
		zap.String("text", req.Text()),
	)

	ref, cleanup, err := b.normalizeReference(ctx, req.ReferenceAudio())
	if err != nil {
		return Outcome{}, &SynthesisError{Kind: KindConvert, Message: "reference audio conversion failed", Err: err}
	}
	defer cleanup()

	args, err := newArgs(ref, req.Text(), req.OutputPath(), b.modelDir)
	if err != nil {
		return Outcome{}, &SynthesisError{Kind: KindStart, Message: "resolve paths", Err: err}
	}
	program, err := renderProgram(b.root, args)
	if err != nil {
		return Outcome{}, &SynthesisError{Kind: KindStart, Message: "render program", Err: err}
	}

	out, err := b.run(ctx, program, log)
	if err != nil {
		return out, err
	}
	if err := verifyOutput(args.OutputPath); err != nil {
		return out, &SynthesisError{Kind: KindOutput, ExitCode: out.ExitCode, Stderr: out.Stderr,
			Message: fmt.Sprintf("output file was not created at %s", args.OutputPath), Err: err}
	}

	out.OutputPath = args.OutputPath
	log.Info("speech generation successful", zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// normalizeReference returns a WAV version of ref. The cleanup func removes
// any converted copy and is always safe to call.
func (b *Bridge) normalizeReference(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}
	if strings.EqualFold(filepath.Ext(ref), ".wav") {
		return ref, noop, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(ref), "ref-*.wav")
	if err != nil {
		return "", noop, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	cleanup := func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("temp reference cleanup failed", zap.String("path", tmpPath), zap.Error(err))
		}
	}

	b.log.Info("converting reference audio to WAV", zap.String("from", ref))
	if err := b.convert(ctx, ref, tmpPath); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmpPath, cleanup, nil
}

// run executes the program under the timeout, forwarding stdout lines to the
// log as they arrive, and classifies exit, timeout and marker failures.
func (b *Bridge) run(ctx context.Context, program string, log *zap.Logger) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := b.command(ctx, program)
	cmd.Env = append(os.Environ(),
		"PYTHONUNBUFFERED=1",
		"PYTHONIOENCODING=utf-8",
		"PYTHONLEGACYWINDOWSSTDIO=0",
	)
	isolate(cmd)
	cmd.WaitDelay = waitDelay

	stdout := newLineWriter(func(line string) {
		log.Info(line, zap.String("source", "indextts"))
	})
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	log.Info("starting IndexTTS2 inference", zap.Duration("timeout", b.timeout))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, &SynthesisError{Kind: KindStart, ExitCode: -1, Message: "cannot start isolated interpreter", Err: err}
	}
	waitErr := cmd.Wait()
	stdout.Flush()

	out := Outcome{
		ExitCode: exitCode(cmd, waitErr),
		Stdout:   stdout.Lines(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Elapsed:  time.Since(start),
	}
	for _, line := range strings.Split(out.Stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			log.Info(line, zap.String("source", "indextts-stderr"))
		}
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		log.Error("IndexTTS2 inference timed out", zap.Duration("timeout", b.timeout))
		return out, &SynthesisError{Kind: KindTimeout, ExitCode: out.ExitCode, Stderr: out.Stderr,
			Message: fmt.Sprintf("timed out after %s", b.timeout), Err: ctxErr}
	case ctxErr != nil:
		return out, &SynthesisError{Kind: KindCanceled, ExitCode: out.ExitCode, Stderr: out.Stderr,
			Message: "canceled", Err: ctxErr}
	}

	if waitErr != nil || out.ExitCode != 0 {
		log.Error("IndexTTS2 subprocess failed", zap.Int("exit_code", out.ExitCode))
		return out, &SynthesisError{Kind: KindExit, ExitCode: out.ExitCode, Stderr: out.Stderr,
			Message: "subprocess failed", Err: waitErr}
	}

	if !strings.Contains(strings.Join(out.Stdout, "\n"), SuccessMarker) {
		return out, &SynthesisError{Kind: KindMarker, ExitCode: out.ExitCode, Stderr: out.Stderr,
			Message: "success marker not found in output"}
	}
	return out, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// verifyOutput checks the output exists and can be opened for reading.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
