package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voxa/internal/tts"
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// Improver rewrites text.
type Improver interface {
	Improve(ctx context.Context, text string) (string, error)
}

// Synthesizer renders text in the voice of a reference recording.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthesisRequest) (tts.Outcome, error)
}

// Notifier receives fatal job failures.
type Notifier interface {
	Notify(ctx context.Context, jobID string, err error, details string) error
}

// Orchestrator drives ingest, transcribe, improve and synthesize for one
// upload at a time per call. Calls may run concurrently; each Job owns its
// own temp files.
type Orchestrator struct {
	stt      Transcriber
	improver Improver
	synth    Synthesizer
	notifier Notifier
	tempDir  string
	log      *zap.Logger

	// Duration, when set, is used to log audio lengths. Failures are ignored.
	Duration func(ctx context.Context, path string) (float64, error)

	newID func() string
}

// NewOrchestrator wires the stage adapters. notifier and log may be nil.
func NewOrchestrator(
	stt Transcriber,
	improver Improver,
	synth Synthesizer,
	notifier Notifier,
	tempDir string,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		stt:      stt,
		improver: improver,
		synth:    synth,
		notifier: notifier,
		tempDir:  tempDir,
		log:      log.With(zap.String("component", "pipeline")),
		newID:    uuid.NewString,
	}
}

// Process runs one Job over upload. The temp input is removed before Process
// returns, on every path.
//
// A non-nil Result owns the output file; the caller must Close it after the
// audio was sent. When synthesis itself failed, Process returns both a Result
// holding the reference-audio fallback and the error.
func (o *Orchestrator) Process(ctx context.Context, upload io.Reader, filename string) (res *Result, err error) {
	job := newJob(o.newID(), filename, o.tempDir)
	log := o.log.With(zap.String("job_id", job.ID))
	start := time.Now()
	log.Info("pipeline start", zap.String("filename", filename))

	defer func() {
		o.remove(log, job.InputPath, "input")
		if p := recover(); p != nil {
			o.remove(log, job.OutputPath, "output")
			_ = job.advance(StateFailed)
			perr := fmt.Errorf("panic: %v", p)
			log.Error("pipeline panicked", zap.Any("panic", p), zap.Stack("stack"))
			o.notify(ctx, job, perr)
			panic(p)
		}
		if err == nil {
			log.Info("pipeline end", zap.Duration("elapsed", time.Since(start)), zap.Bool("passthrough", job.Passthrough))
			return
		}

		_ = job.advance(StateFailed)
		if res == nil {
			o.remove(log, job.OutputPath, "output")
		}
		if errors.Is(err, context.Canceled) {
			log.Warn("pipeline canceled", zap.Error(err))
			return
		}
		log.Error("pipeline failed", zap.Error(err), zap.Bool("fallback_output", res != nil))
		o.notify(ctx, job, err)
	}()

	if err := o.ingest(log, job, upload); err != nil {
		return nil, err
	}
	if err := o.transcribe(ctx, log, job); err != nil {
		return nil, err
	}
	if err := o.improve(ctx, log, job); err != nil {
		return nil, err
	}
	return o.synthesize(ctx, log, job)
}

func (o *Orchestrator) ingest(log *zap.Logger, job *Job, upload io.Reader) error {
	if err := os.MkdirAll(o.tempDir, 0o755); err != nil {
		return &StageError{Stage: StageIngest, Message: "cannot create temp dir", Err: err}
	}

	log.Info("saving uploaded audio", zap.String("path", job.InputPath))
	f, err := os.OpenFile(job.InputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return &StageError{Stage: StageIngest, Message: "cannot create input file", Err: err}
	}
	n, err := io.Copy(f, upload)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &StageError{Stage: StageIngest, Message: "cannot save upload", Err: err}
	}
	if n == 0 {
		return &StageError{Stage: StageIngest, Message: "no audio data", Err: ErrEmptyUpload}
	}

	log.Info("audio saved", zap.String("size", humanize.Bytes(uint64(n))), zap.Float64("seconds", o.duration(job.InputPath)))
	return job.advance(StateIngested)
}

func (o *Orchestrator) transcribe(ctx context.Context, log *zap.Logger, job *Job) error {
	log.Info("starting transcription")
	text, err := o.stt.Transcribe(ctx, job.InputPath)
	if err != nil {
		return &StageError{Stage: StageTranscribe, Message: "transcription failed", Err: err}
	}
	job.Transcript = text
	log.Info("transcription complete", zap.String("text", text))
	return job.advance(StateTranscribed)
}

func (o *Orchestrator) improve(ctx context.Context, log *zap.Logger, job *Job) error {
	log.Info("starting text improvement")
	text, err := o.improver.Improve(ctx, job.Transcript)
	if err != nil {
		return &StageError{Stage: StageImprove, Message: "text improvement failed", Err: err}
	}
	job.ImprovedText = text
	log.Info("text improvement complete", zap.String("text", text))
	return job.advance(StateImproved)
}

// synthesize applies the fallback policy:
//   - nothing to speak or synthesis unavailable: copy the reference, no error;
//   - invocation failed: copy the reference if possible and still return the error.
func (o *Orchestrator) synthesize(ctx context.Context, log *zap.Logger, job *Job) (*Result, error) {
	if strings.TrimSpace(job.ImprovedText) == "" {
		log.Warn("no text to synthesize, using reference audio as output")
		return o.passthrough(log, job, nil)
	}

	req, err := tts.NewSynthesisRequest(job.InputPath, job.ImprovedText, job.OutputPath)
	if err != nil {
		return nil, &StageError{Stage: StageSynthesize, Message: "invalid synthesis request", Err: err}
	}

	log.Info("starting speech synthesis")
	_, synthErr := o.synth.Synthesize(ctx, req)
	switch {
	case synthErr == nil:
		job.Passthrough = false
		if err := job.advance(StateSynthesized); err != nil {
			return nil, err
		}
		log.Info("speech synthesis complete", zap.Float64("seconds", o.duration(job.OutputPath)))
		return o.result(job), nil

	case errors.Is(synthErr, tts.ErrUnavailable):
		log.Warn("synthesis unavailable, using reference audio as output", zap.Error(synthErr))
		return o.passthrough(log, job, nil)

	default:
		log.Error("speech synthesis failed, falling back to reference audio", zap.Error(synthErr))
		return o.passthrough(log, job, &StageError{Stage: StageSynthesize, Message: "speech synthesis failed", Err: synthErr})
	}
}

// passthrough copies the reference audio to the output path. cause, when set,
// is returned alongside the fallback Result.
func (o *Orchestrator) passthrough(log *zap.Logger, job *Job, cause error) (*Result, error) {
	if err := copyFile(job.InputPath, job.OutputPath); err != nil {
		log.Error("reference audio fallback failed", zap.Error(err))
		if cause != nil {
			return nil, cause
		}
		return nil, &StageError{Stage: StageSynthesize, Message: "reference audio fallback failed", Err: err}
	}
	job.Passthrough = true

	if cause != nil {
		return o.result(job), cause
	}
	if err := job.advance(StateSynthesized); err != nil {
		return nil, err
	}
	return o.result(job), nil
}

func (o *Orchestrator) result(job *Job) *Result {
	return &Result{job: job, log: o.log.With(zap.String("job_id", job.ID))}
}

func (o *Orchestrator) remove(log *zap.Logger, path, what string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		log.Debug("removed temporary file", zap.String("kind", what), zap.String("path", path))
	case errors.Is(err, os.ErrNotExist):
	default:
		log.Warn("temporary file cleanup failed", zap.String("kind", what), zap.String("path", path), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, job *Job, err error) {
	if o.notifier == nil {
		return
	}
	details := fmt.Sprintf("job=%s file=%q state=%s", job.ID, job.Filename, job.State)
	if nerr := o.notifier.Notify(context.WithoutCancel(ctx), job.ID, err, details); nerr != nil {
		o.log.Warn("failure notification not delivered", zap.String("job_id", job.ID), zap.Error(nerr))
	}
}

func (o *Orchestrator) duration(path string) float64 {
	if o.Duration == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := o.Duration(ctx, path)
	if err != nil {
		o.log.Debug("duration probe failed", zap.String("path", path), zap.Error(err))
		return 0
	}
	return d
}

// copyFile copies src to dst byte for byte, replacing dst.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
