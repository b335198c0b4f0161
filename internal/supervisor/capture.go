package supervisor

import "sync"

// DefaultCaptureBytes is how much of each child stream is kept for diagnostics.
const DefaultCaptureBytes = 64 << 10

// tailBuffer keeps the last maxBytes written to it.
// It always reports success to callers so the child's pipes keep draining.
type tailBuffer struct {
	mu sync.Mutex

	maxBytes  int64
	buf       []byte
	truncated bool
}

func newTailBuffer(maxBytes int64) *tailBuffer {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &tailBuffer{maxBytes: maxBytes}
}

func (tb *tailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.maxBytes <= 0 {
		tb.truncated = tb.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) >= tb.maxBytes {
		tb.buf = append(tb.buf[:0], p[int64(len(p))-tb.maxBytes:]...)
		tb.truncated = true
		return len(p), nil
	}
	tb.buf = append(tb.buf, p...)
	if over := int64(len(tb.buf)) - tb.maxBytes; over > 0 {
		tb.buf = append(tb.buf[:0], tb.buf[over:]...)
		tb.truncated = true
	}
	return len(p), nil
}

// Snapshot copies the retained tail.
func (tb *tailBuffer) Snapshot() (b []byte, truncated bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if len(tb.buf) == 0 {
		return nil, tb.truncated
	}
	out := make([]byte, len(tb.buf))
	copy(out, tb.buf)
	return out, tb.truncated
}
