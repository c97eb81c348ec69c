package registry

import (
	"context"

	"github.com/felixgeelhaar/gantry/internal/ports"
)

const taskQueueDepth = 64

// task is one unit of work for the coordinator goroutine. done is non-nil
// for callers that wait; it receives the recovered panic value, or nil on
// normal completion, exactly once.
type task struct {
	name string
	fn   func()
	done chan any
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.tasks:
			s.runTask(t)
		case <-s.quit:
			return
		}
	}
}

func (s *Service) runTask(t *task) {
	if t.done == nil {
		// Posted work has no caller to hand a contract violation to; let
		// it take the process down.
		t.fn()
		return
	}
	var pv any
	func() {
		defer func() { pv = recover() }()
		t.fn()
	}()
	t.done <- pv
}

// do runs fn on the coordinator goroutine and waits for it to finish. A
// panic inside fn is rethrown on the calling goroutine.
func (s *Service) do(ctx context.Context, name string, fn func()) error {
	if !s.alive.Load() {
		return ErrServiceStopped
	}
	t := &task{name: name, fn: fn, done: make(chan any, 1)}
	select {
	case s.tasks <- t:
	case <-s.quit:
		return ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case pv := <-t.done:
		if pv != nil {
			panic(pv)
		}
		return nil
	case <-s.quit:
		return ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post schedules fn on the coordinator goroutine without waiting.
// Completions arriving after teardown are dropped.
func (s *Service) post(name string, fn func()) {
	if !s.alive.Load() {
		s.logger.Debug(s.runCtx, "dropping completion after teardown", ports.F("op", name))
		return
	}
	select {
	case s.tasks <- &task{name: name, fn: fn}:
	case <-s.quit:
		s.logger.Debug(s.runCtx, "dropping completion after teardown", ports.F("op", name))
	}
}
