package executor

import (
	"bytes"
	"sync"
)

// limitWriter captures up to max bytes and silently drops the rest, setting
// the truncated flag instead of failing the write. An optional sink receives
// the stored portion of every chunk for streaming callers.
type limitWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
	sink      func([]byte)
}

func newLimitWriter(max int, sink func([]byte)) *limitWriter {
	return &limitWriter{max: max, sink: sink}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remain := w.max - w.buf.Len()
	if remain <= 0 {
		w.truncated = true
		return len(p), nil
	}
	stored := p
	if len(p) > remain {
		stored = p[:remain]
		w.truncated = true
	}
	w.buf.Write(stored)
	if w.sink != nil && len(stored) > 0 {
		// Copy: the caller may reuse p after Write returns.
		chunk := make([]byte, len(stored))
		copy(chunk, stored)
		w.sink(chunk)
	}
	return len(p), nil
}

func (w *limitWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *limitWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
