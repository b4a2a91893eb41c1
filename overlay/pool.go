package overlay

import (
	"sync"
)

// task is run by a pool worker, which passes its own id.
type task func(worker int)

// Pool is a fixed set of worker goroutines fed from one queue.  Each worker has an id
// in [0, Size()) so tasks can write per-worker state without locking.
type Pool struct {
	tasks     chan task
	size      int
	done      sync.WaitGroup
	closeOnce sync.Once
}

// NewPool starts size workers.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan task, size),
		size:  size,
	}
	p.done.Add(size)
	for i := 0; i < size; i++ {
		go p.work(i)
	}
	return p
}

func (p *Pool) work(id int) {
	defer p.done.Done()
	for t := range p.tasks {
		t(id)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Run queues the tasks and returns once all have finished.
func (p *Pool) Run(tasks []task) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		t := t
		p.tasks <- func(worker int) {
			defer wg.Done()
			t(worker)
		}
	}
	wg.Wait()
}

// Close stops the workers after queued tasks finish.  Run must not be called after Close.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		p.done.Wait()
	})
}
