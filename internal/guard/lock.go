package guard

import "sync"

// SubmissionLock is a process-local set of held keys. Verification uses one
// key per action so IN and OUT lock independently.
type SubmissionLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewSubmissionLock() *SubmissionLock {
	return &SubmissionLock{held: make(map[string]struct{})}
}

// Acquire takes key and reports whether it was free.
func (l *SubmissionLock) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees key. Releasing a key that is not held is a no-op.
func (l *SubmissionLock) Release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

func (l *SubmissionLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
