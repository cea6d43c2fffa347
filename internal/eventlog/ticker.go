package eventlog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Ticker drives a List's relative clock from wall time. It runs as a
// background goroutine and is stopped via its context or Stop.
//
// A period of 0 disables the ticker; the clock then only moves through
// explicit Tick/Advance calls.
type Ticker struct {
	list   *List
	period time.Duration
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker creates a ticker but does not start it.
func NewTicker(l *List, period time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		list:   l,
		period: period,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins the background loop.
func (t *Ticker) Start(ctx context.Context) {
	if t.period <= 0 {
		t.logger.Info().Msg("event log ticker disabled (period=0)")
		close(t.done)
		return
	}

	ctx, t.cancel = context.WithCancel(ctx)
	go t.loop(ctx)

	t.logger.Info().Dur("period", t.period).Msg("event log ticker started")
}

// Stop signals the loop to exit and waits for it to finish.
func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
}

func (t *Ticker) loop(ctx context.Context) {
	defer close(t.done)

	tk := time.NewTicker(t.period)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.list.Tick()
		}
	}
}
