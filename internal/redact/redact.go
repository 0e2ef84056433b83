// Package redact keeps user passwords and other sensitive values out of
// log streams. Proof generation handlers register the request password
// here before logging anything about the request.
package redact

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

const placeholder = "[REDACTED]"

// Writer wraps an io.Writer and replaces every occurrence of the
// registered sensitive values with [REDACTED]. Matches spanning Write()
// boundaries are handled by buffering up to the longest value.
type Writer struct {
	mu        sync.Mutex
	out       io.Writer
	matcher   aho.AhoCorasick
	values    []string
	maxValLen int
	buf       []byte
}

// NewWriter builds a redacting writer over out. Empty values are ignored;
// with no values at all, writes pass straight through.
func NewWriter(out io.Writer, values []string) *Writer {
	var filtered []string
	for _, v := range values {
		if len(v) > 0 {
			filtered = append(filtered, v)
		}
	}

	w := &Writer{out: out, values: filtered}
	if len(filtered) == 0 {
		return w
	}

	for _, v := range filtered {
		if len(v) > w.maxValLen {
			w.maxValLen = len(v)
		}
	}

	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	w.matcher = builder.Build(filtered)
	return w
}

// Write implements io.Writer. Data may be buffered until enough context
// exists to rule out a match crossing the chunk boundary.
func (w *Writer) Write(p []byte) (int, error) {
	if len(w.values) == 0 {
		return w.out.Write(p)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if err := w.process(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush emits any buffered tail, applying final redaction.
func (w *Writer) Flush() error {
	if len(w.values) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.process(true)
}

func (w *Writer) process(flushAll bool) error {
	if len(w.buf) == 0 {
		return nil
	}

	// Hold back maxValLen-1 bytes so a value split across writes still
	// matches, unless this is the final flush.
	safeEnd := len(w.buf)
	if !flushAll {
		safeEnd = len(w.buf) - (w.maxValLen - 1)
		if safeEnd <= 0 {
			return nil
		}
	}

	// Search the whole buffer, not just the safe zone, to catch matches
	// that straddle the boundary.
	matches := w.matcher.FindAll(string(w.buf))

	var result []byte
	pos := 0
	consumedEnd := safeEnd

	for _, m := range matches {
		start, end := m.Start(), m.End()
		if start < pos {
			continue
		}
		if start >= safeEnd && !flushAll {
			break
		}
		result = append(result, w.buf[pos:start]...)
		result = append(result, placeholder...)
		pos = end
		if end > consumedEnd {
			consumedEnd = end
		}
	}

	if pos < safeEnd {
		result = append(result, w.buf[pos:safeEnd]...)
	}
	if len(result) > 0 {
		if _, err := w.out.Write(result); err != nil {
			return err
		}
	}

	remaining := make([]byte, len(w.buf)-consumedEnd)
	copy(remaining, w.buf[consumedEnd:])
	w.buf = remaining
	return nil
}
