package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Stage is a processing phase of a Job.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageTranscribe Stage = "transcribe"
	StageImprove    Stage = "improve"
	StageSynthesize Stage = "synthesize"
)

// State tracks a Job through its lifecycle.
type State string

const (
	StateCreated     State = "created"
	StateIngested    State = "ingested"
	StateTranscribed State = "transcribed"
	StateImproved    State = "improved"
	StateSynthesized State = "synthesized"
	StateResponded   State = "responded"
	StateFailed      State = "failed"
)

// next is the only forward edge out of each non-terminal state.
var next = map[State]State{
	StateCreated:     StateIngested,
	StateIngested:    StateTranscribed,
	StateTranscribed: StateImproved,
	StateImproved:    StateSynthesized,
	StateSynthesized: StateResponded,
}

// Job is one pipeline run. It is owned by a single Process call.
type Job struct {
	ID           string
	Filename     string
	InputPath    string
	OutputPath   string
	State        State
	Transcript   string
	ImprovedText string
	Passthrough  bool
}

func newJob(id, filename, tempDir string) *Job {
	return &Job{
		ID:         id,
		Filename:   filename,
		InputPath:  filepath.Join(tempDir, fmt.Sprintf("input_%s_%s", id, sanitizeFilename(filename))),
		OutputPath: filepath.Join(tempDir, fmt.Sprintf("output_%s.wav", id)),
		State:      StateCreated,
	}
}

// advance moves the job forward one state, or into StateFailed from any
// non-terminal state.
func (j *Job) advance(to State) error {
	from := j.State
	switch {
	case to == StateFailed && !j.terminal():
	case next[from] == to:
	default:
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, from, to)
	}
	j.State = to
	return nil
}

func (j *Job) terminal() bool {
	return j.State == StateResponded || j.State == StateFailed
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename keeps a safe base name, including its extension.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "_" {
		return "audio"
	}
	if len(base) > 64 {
		ext := filepath.Ext(base)
		if len(ext) > 16 {
			ext = ""
		}
		base = base[:64-len(ext)] + ext
	}
	return base
}
