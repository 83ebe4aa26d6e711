package roles

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"maestro/internal/logging"
	"maestro/internal/messages"
)

// Pool routes ExecuteRole requests to handlers, bounding concurrent
// executions with a weighted semaphore. One pool hosts the planner and
// builder; the reviewer gets its own so review fan-out cannot starve
// building.
type Pool struct {
	handlers map[string]Handler
	requests chan messages.ExecuteRole
	sem      *semaphore.Weighted
	logger   logging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool builds a pool of the given width over the handler map. Width
// below 1 is raised to 1.
func NewPool(width int, handlers map[string]Handler, logger logging.Logger) *Pool {
	if width < 1 {
		width = 1
	}
	return &Pool{
		handlers: handlers,
		requests: make(chan messages.ExecuteRole, width*2),
		sem:      semaphore.NewWeighted(int64(width)),
		logger:   logging.OrNop(logger),
	}
}

// Submit queues a request. The reply arrives on req.Reply.
func (p *Pool) Submit(req messages.ExecuteRole) {
	p.requests <- req
}

// Start launches the dispatch loop. Each accepted request runs in its own
// goroutine under the semaphore.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-p.requests:
				if err := p.sem.Acquire(ctx, 1); err != nil {
					p.reply(req, messages.RoleResult{Failed: &messages.RoleFailed{
						TaskID: req.TaskID, Role: req.Role,
						Reason: "worker pool shutting down", Retriable: false,
					}})
					return
				}
				p.wg.Add(1)
				go func(req messages.ExecuteRole) {
					defer p.wg.Done()
					defer p.sem.Release(1)
					p.serve(ctx, req)
				}(req)
			}
		}
	}()
}

func (p *Pool) serve(ctx context.Context, req messages.ExecuteRole) {
	handler, ok := p.handlers[req.Role]
	if !ok {
		p.reply(req, messages.RoleResult{Failed: &messages.RoleFailed{
			TaskID: req.TaskID, Role: req.Role,
			Reason: "unsupported role " + req.Role, Retriable: false,
		}})
		return
	}
	ok2, failed := handler.Handle(ctx, req)
	if failed != nil {
		p.reply(req, messages.RoleResult{Failed: failed})
		return
	}
	p.reply(req, messages.RoleResult{Succeeded: &ok2})
}

func (p *Pool) reply(req messages.ExecuteRole, res messages.RoleResult) {
	if req.Reply == nil {
		p.logger.Warn("role request for task %s has no reply channel", req.TaskID)
		return
	}
	select {
	case req.Reply <- res:
	default:
		p.logger.Warn("reply channel for task %s role %s already full", req.TaskID, req.Role)
	}
}

// Stop cancels the loop and waits for in-flight work.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
