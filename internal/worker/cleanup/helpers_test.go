package cleanup

import (
	"bytes"
	"sync"
	"time"
)

// countingReaper は呼び出し回数を数えるDraftReaper。
type countingReaper struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReaper) RemoveOlderThan(time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0
}

func (c *countingReaper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// syncBuffer はゴルーチンから安全に書き込めるバッファ。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
