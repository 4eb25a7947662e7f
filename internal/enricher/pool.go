package enricher

import "sync"

const defaultPoolSize = 16

// WorkerPool is a fixed-size pool shared across all concurrent enrichment
// calls. It bounds how many endpoint units can run at once system-wide.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// NewWorkerPool starts size workers. A non-positive size uses the default.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = defaultPoolSize
	}

	p := &WorkerPool{
		tasks: make(chan func(), size*4),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues a task. It blocks when the queue is full, which applies
// backpressure to callers under load.
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// Stop closes the pool and waits for in-flight tasks to finish
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
