package callsession

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("callsession: queue closed")

// Queue runs functions one at a time on a single goroutine.
type Queue struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewQueue() *Queue {
	q := &Queue{tasks: make(chan func()), done: make(chan struct{})}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case fn := <-q.tasks:
			fn()
		case <-q.done:
			return
		}
	}
}

// Do runs fn on the queue and waits for it to return.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case q.tasks <- task:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Close stops the queue after the running task, if any.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}
