package scheduler

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler owns the process's periodic tasks under stable names: the watch
// renewal loop, one fallback poll per synced user, and the cache purge.
// Scheduling a name that already exists replaces the old task; Cancel stops
// a task so it never fires again (an in-flight run completes). A tick that
// arrives while the previous run is still executing is skipped.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	stop    chan struct{}
	running int32
}

func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Schedule starts fn on a fixed interval. With immediate set, fn also runs
// once right away.
func (s *Scheduler) Schedule(name string, interval time.Duration, immediate bool, fn func()) {
	t := &task{stop: make(chan struct{})}

	s.mu.Lock()
	if old, ok := s.tasks[name]; ok {
		close(old.stop)
	}
	s.tasks[name] = t
	s.mu.Unlock()

	go func() {
		if immediate {
			t.invoke(name, fn)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.invoke(name, fn)
			case <-t.stop:
				return
			}
		}
	}()
}

func (t *task) invoke(name string, fn func()) {
	if !atomic.CompareAndSwapInt32(&t.running, 0, 1) {
		log.Printf("[Scheduler] task %s still running, skipping tick", name)
		return
	}
	defer atomic.StoreInt32(&t.running, 0)
	fn()
}

// Cancel stops the named task. Unknown names are a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		close(t.stop)
		delete(s.tasks, name)
	}
}

func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.tasks {
		close(t.stop)
		delete(s.tasks, name)
	}
}

// Active reports whether a task is currently scheduled under name.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}
