package archive

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pruner periodically deletes archived events older than a configurable
// retention period. It runs as a background goroutine and is stopped via
// its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type Pruner struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of archive to keep. 0 keeps everything.
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewPruner creates a pruner but does not start it.
func NewPruner(s Store, cfg PrunerConfig, logger zerolog.Logger) *Pruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &Pruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info().Msg("archive pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info().
		Int("retention_days", int(p.retention.Hours()/24)).
		Dur("interval", p.interval).
		Msg("archive pruner started")
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("archive prune failed")
		return
	}
	if deleted > 0 {
		p.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("archive pruned")
	}
}
