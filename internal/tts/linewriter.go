package tts

import (
	"bytes"
	"strings"
)

// lineWriter splits a byte stream into lines and hands each complete line to
// emit as soon as it is written. Only one goroutine may write.
type lineWriter struct {
	buf   bytes.Buffer
	emit  func(line string)
	lines []string
}

func newLineWriter(emit func(line string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.push(line)
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.push(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) push(raw string) {
	line := strings.TrimRight(raw, "\r\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	w.lines = append(w.lines, line)
	if w.emit != nil {
		w.emit(line)
	}
}

// Lines returns every non-empty line seen so far.
func (w *lineWriter) Lines() []string { return w.lines }
