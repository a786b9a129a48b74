package net

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// taskChanSize bounds how many accepted connections can be queued waiting
// for a free worker before Accept backpressures.
const taskChanSize = 100

// WorkerFunction is the per-task body a worker pool runs. An error return
// is logged but does not stop the pool; only the tomb dying does.
type WorkerFunction func(t *tomb.Tomb, task any) error

// WorkerPool bounds how many connections get an active session
// dispatch loop running concurrently.
//
// Adapted from saiputravu-Exchange/internal/worker.go, which had two
// defects: its activeWorkers counter was incremented/decremented from
// inside spawned goroutines without synchronisation, and its Setup loop
// busy-spun on that counter instead of simply spawning a fixed number of
// long-lived workers. Both are fixed here: the counter is an atomic.Int64
// kept only for observability, and Setup spawns exactly n workers once,
// each looping internally until the pool's tomb is dying.
type WorkerPool struct {
	n      int
	tasks  chan any
	active atomic.Int64
}

// NewWorkerPool constructs a pool that will run at most size tasks
// concurrently.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		n:     size,
		tasks: make(chan any, taskChanSize),
	}
}

// AddTask enqueues a task (here, an accepted net.Conn) for the next free
// worker.
func (p *WorkerPool) AddTask(task any) {
	p.tasks <- task
}

// Setup spawns the pool's fixed set of worker goroutines under t.
func (p *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.worker(t, work)
		})
	}
}

func (p *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	p.active.Add(1)
	defer p.active.Add(-1)

	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker task failed")
			}
		}
	}
}
