package health

import (
	"context"
	"sync"
	"time"

	"github.com/georoute-io/georoute/internal/logging"
)

// DefaultSweepInterval is the interval between health sweeps.
const DefaultSweepInterval = 30 * time.Second

// Sweeper runs PerformHealthChecks once on start and then on every interval.
type Sweeper struct {
	monitor  *Monitor
	interval time.Duration
	logger   *logging.Logger
	onSweep  func()

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewSweeper creates a Sweeper. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(monitor *Monitor, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		monitor:  monitor,
		interval: interval,
		logger:   monitor.logger.WithComponent("health-sweeper"),
	}
}

// SetOnSweep registers fn to run after every sweep, failed or not.
// Call before Start.
func (s *Sweeper) SetOnSweep(fn func()) {
	s.onSweep = fn
}

// Start begins the background loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	go s.run(ctx, s.doneCh)
}

// Stop cancels the loop, including any sweep in progress, and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.doneCh
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.onSweep != nil {
		defer s.onSweep()
	}
	statuses, err := s.monitor.PerformHealthChecks(ctx)
	if err != nil {
		s.logger.Warnf("health sweep finished with errors", map[string]any{"error": err.Error()})
		return
	}
	unhealthy := 0
	for _, st := range statuses {
		if !st.Healthy {
			unhealthy++
		}
	}
	s.logger.Debugf("health sweep finished", map[string]any{
		"regions":   len(statuses),
		"unhealthy": unhealthy,
	})
}
