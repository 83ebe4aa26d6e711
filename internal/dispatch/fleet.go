package dispatch

import (
	"context"
	"sync"
	"time"

	"maestro/internal/logging"
)

// FleetMonitor polls supervisor snapshots and warns when counters stop
// moving while work is still in flight.
type FleetMonitor struct {
	supervisor *Supervisor
	dispatcher *Dispatcher
	interval   time.Duration
	logger     logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFleetMonitor builds a monitor ticking at interval.
func NewFleetMonitor(supervisor *Supervisor, dispatcher *Dispatcher, interval time.Duration, logger logging.Logger) *FleetMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &FleetMonitor{
		supervisor: supervisor,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logging.OrNop(logger),
	}
}

// Start launches the tick loop.
func (f *FleetMonitor) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		last := f.supervisor.Snapshot()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := f.supervisor.Snapshot()
				active := f.dispatcher.ActiveCount()
				if active > 0 && current == last {
					f.logger.Warn("fleet stall: %d task(s) active, counters unchanged for %s (snapshot %+v)",
						active, f.interval, current)
				}
				last = current
			}
		}
	}()
}

// Stop halts the loop.
func (f *FleetMonitor) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}
