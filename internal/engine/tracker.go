package engine

import "sync"

// offsetTracker computes the resume offset of a run: the lowest ordinal that
// was emitted but not fully processed, or one past the highest emitted
// ordinal when everything finished. Its size is bounded by the number of
// candidates in flight or skipped.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[uint64]struct{}
	next    uint64
}

func newOffsetTracker(start uint64) *offsetTracker {
	return &offsetTracker{pending: make(map[uint64]struct{}), next: start}
}

func (t *offsetTracker) start(ordinal uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[ordinal] = struct{}{}
	if ordinal >= t.next {
		t.next = ordinal + 1
	}
}

func (t *offsetTracker) done(ordinal uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, ordinal)
}

func (t *offsetTracker) resumeOffset() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	low := t.next
	for o := range t.pending {
		if o < low {
			low = o
		}
	}
	return low
}
