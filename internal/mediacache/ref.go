package mediacache

import (
	"sync"
	"sync/atomic"
)

// Ref is a live handle to whatever is currently displaying a media item.
// Upgrades are applied through the ref only while it is live; releasing it
// does not stop an in-flight download from completing and caching.
type Ref struct {
	live  atomic.Bool
	mu    sync.Mutex
	apply func(url string)
}

// NewRef returns a live ref that calls apply with upgraded URLs.
func NewRef(apply func(url string)) *Ref {
	r := &Ref{apply: apply}
	r.live.Store(true)
	return r
}

// Release marks the ref as gone. Later upgrades are dropped.
func (r *Ref) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live.Store(false)
}

// Apply swaps the displayed URL if the ref is still live.
func (r *Ref) Apply(url string) bool {
	if r == nil || r.apply == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live.Load() {
		return false
	}
	r.apply(url)
	return true
}

// Task tracks one background download.
type Task struct {
	done chan struct{}
	url  string
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) finish(url string, err error) {
	t.url, t.err = url, err
	close(t.done)
}

// Done is closed once the download has finished or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the local URL or the download error. It must only be
// called after Done is closed.
func (t *Task) Result() (string, error) {
	return t.url, t.err
}
