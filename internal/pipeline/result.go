package pipeline

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Result is the output of a Job. It owns the output file until Close.
type Result struct {
	job  *Job
	log  *zap.Logger
	once sync.Once
	err  error
}

func (r *Result) JobID() string        { return r.job.ID }
func (r *Result) OutputPath() string   { return r.job.OutputPath }
func (r *Result) Transcript() string   { return r.job.Transcript }
func (r *Result) ImprovedText() string { return r.job.ImprovedText }

// Passthrough reports whether the output is a copy of the uploaded audio.
func (r *Result) Passthrough() bool { return r.job.Passthrough }

// State returns the job state.
func (r *Result) State() State { return r.job.State }

// Open opens the output audio for reading.
func (r *Result) Open() (*os.File, error) {
	return os.Open(r.job.OutputPath)
}

// Close marks the job responded (when it completed) and removes the output
// file. It is safe to call more than once.
func (r *Result) Close() error {
	r.once.Do(func() {
		if r.job.State == StateSynthesized {
			_ = r.job.advance(StateResponded)
		}
		if err := os.Remove(r.job.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("output cleanup failed", zap.String("path", r.job.OutputPath), zap.Error(err))
			r.err = err
		}
	})
	return r.err
}
