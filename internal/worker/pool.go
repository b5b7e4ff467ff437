package worker

import (
	"context"
	"sync"

	"github.com/miauchat/dispatch/internal/domain"
)

// Dispatcher submits a stored message to its conversation queue.
// Implemented by service.MessageService.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *domain.Message) <-chan error
}

// Runner is a background loop that stops when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// Pool manages the lifecycle of the background pollers.
// Sends themselves run on the conversation queue's per-conversation
// goroutines; the pool only owns the loops that feed it.
type Pool struct {
	runners []Runner
	wg      sync.WaitGroup
}

func NewPool(runners ...Runner) *Pool {
	return &Pool{runners: runners}
}

// Start launches all runners as goroutines.
// Cancelling ctx triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, r := range p.runners {
		p.wg.Add(1)
		go func(r Runner) {
			defer p.wg.Done()
			r.Run(ctx)
		}(r)
	}
}

// Wait blocks until every runner has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
