// Package status exposes run progress to callers, as point-in-time
// queries or as a polling subscription that follows a run until it
// reaches a terminal state.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/studio233/flowcore/pkg/persistence"
)

// Poll interval bounds for subscriptions.
const (
	DefaultInterval = 1500 * time.Millisecond
	MinInterval     = 500 * time.Millisecond
	MaxInterval     = 5 * time.Second
)

// ClampInterval normalizes a requested poll interval into the allowed
// range; zero selects the default.
func ClampInterval(interval time.Duration) time.Duration {
	if interval == 0 {
		return DefaultInterval
	}

	if interval < MinInterval {
		return MinInterval
	}

	if interval > MaxInterval {
		return MaxInterval
	}

	return interval
}

// Projector reads run state out of the ledger.
type Projector struct {
	runs   persistence.RunRepository
	logger *slog.Logger
}

// NewProjector creates a projector over the given run repository.
func NewProjector(runs persistence.RunRepository, logger *slog.Logger) *Projector {
	return &Projector{runs: runs, logger: logger}
}

// Get returns the run plus its steps as of now, scoped to the owner.
func (p *Projector) Get(ctx context.Context, userID, runID string) (*persistence.RunDetail, error) {
	return p.runs.GetRun(ctx, userID, runID)
}

// Subscription is a live feed of run snapshots. Consumers receive
// every snapshot on Updates; when the run reaches a terminal state the
// final snapshot is followed by Done. Err is non-nil after Done when
// the feed ended because the run could not be fetched.
type Subscription struct {
	updates chan *persistence.RunDetail
	done    chan struct{}
	stop    chan struct{}

	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// Updates returns the snapshot channel. It is closed when the
// subscription ends.
func (s *Subscription) Updates() <-chan *persistence.RunDetail {
	return s.updates
}

// Done is closed after the final update (or after an error).
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended, nil for a normal terminal
// completion or consumer cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Stop cancels the subscription. Safe to call multiple times and
// after completion; polling stops deterministically.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// Watch polls the ledger for the run on the given interval and pushes
// snapshots to the subscription. The first fetch happens immediately,
// before any timer tick. The poll loop is sequential: a new fetch only
// starts after the previous snapshot has been delivered. A missing or
// unowned run ends the subscription with an error rather than hanging.
func (p *Projector) Watch(ctx context.Context, userID, runID string, interval time.Duration) *Subscription {
	sub := &Subscription{
		updates: make(chan *persistence.RunDetail),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}

	go p.poll(ctx, sub, userID, runID, ClampInterval(interval))

	return sub
}

func (p *Projector) poll(ctx context.Context, sub *Subscription, userID, runID string, interval time.Duration) {
	ticker := time.NewTicker(interval)

	defer func() {
		ticker.Stop()
		close(sub.updates)
		close(sub.done)
	}()

	for {
		detail, err := p.runs.GetRun(ctx, userID, runID)
		if err != nil {
			sub.setErr(err)

			return
		}

		delivered := sub.deliver(ctx, detail)
		if !delivered {
			return
		}

		if detail.Run.State.IsTerminal() {
			return
		}

		select {
		case <-ticker.C:
		case <-sub.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliver pushes a snapshot to the consumer; cancellation always wins
// over a slow or absent reader.
func (s *Subscription) deliver(ctx context.Context, detail *persistence.RunDetail) bool {
	select {
	case s.updates <- detail:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
