package link

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
)

// Serve processes commands until ctx is cancelled. Every non-None
// Transition is handed to apply, including ones whose ack failed.
func (h *Handler) Serve(ctx context.Context, apply func(mode.Transition)) error {
	h.t.StartListening()
	h.log.Info().Dur("poll_interval", h.pollInterval).Msg("link handler started")

	tk := time.NewTicker(h.pollInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("link handler stopped")
			return nil
		case <-tk.C:
		}

		for h.t.Available() && ctx.Err() == nil {
			res, err := h.ProcessCommand(ctx)
			if res.Transition != mode.None && apply != nil {
				apply(res.Transition)
			}
			if err != nil {
				h.log.Warn().Err(err).Str("command", CommandName(res.Command)).Msg("link command failed")
				continue
			}
			if len(res.Entries) > 0 || res.Dumped > 0 {
				h.log.Info().
					Str("command", CommandName(res.Command)).
					Int("entries", len(res.Entries)).
					Int("dumped", res.Dumped).
					Msg("link command done")
			}
		}
	}
}
