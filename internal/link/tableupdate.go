package link

import (
	"context"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
)

// WaitOutcome is how a wait for the next inbound frame ended.
type WaitOutcome int

const (
	WaitFrameReceived WaitOutcome = iota
	WaitTimedOut
	WaitCancelled
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitFrameReceived:
		return "frame_received"
	case WaitTimedOut:
		return "timed_out"
	case WaitCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// tableUpdate runs the stop-and-wait table sync. Each frame is
//
//	[CmdTableUpdate, remaining, auth, tag0, tag1, tag2, tag3]
//
// where remaining counts the entries still to come, this one included, and
// is only read from the first frame. Every entry is applied and answered
// with [ReplyOK, CmdTableUpdate, status] before the next one is requested.
// A failed reply ends the exchange; later entries are never applied.
func (h *Handler) tableUpdate(ctx context.Context, frame []byte, res *Result) error {
	if len(frame) < TableFrameSize {
		return fmt.Errorf("%w: table update needs %d bytes, got %d", ErrShortFrame, TableFrameSize, len(frame))
	}
	count := max(int(frame[1]), 1)

	for i := 1; ; i++ {
		h.t.StopListening()

		entry, err := h.applyEntry(frame)
		if err != nil {
			return err
		}
		res.Entries = append(res.Entries, entry)

		if err := h.send([]byte{ReplyOK, CmdTableUpdate, StatusCode(entry.Result)}); err != nil {
			return fmt.Errorf("entry %d/%d: %w", i, count, err)
		}
		if i >= count {
			return nil
		}

		h.setState(StateSyncWaitNext)
		h.t.StartListening()
		outcome, err := h.waitFrame(ctx)
		switch outcome {
		case WaitTimedOut:
			return fmt.Errorf("entry %d/%d: %w", i+1, count, ErrSyncTimeout)
		case WaitCancelled:
			return err
		}

		frame, err = h.t.Receive()
		if err != nil {
			return fmt.Errorf("entry %d/%d receive: %w: %w", i+1, count, ErrTransport, err)
		}
		if len(frame) > 0 && frame[0] != CmdTableUpdate {
			return fmt.Errorf("%w: %#02x", ErrUnexpectedCommand, frame[0])
		}
		if len(frame) < TableFrameSize {
			return fmt.Errorf("%w: table entry needs %d bytes, got %d", ErrShortFrame, TableFrameSize, len(frame))
		}
		h.setState(StateProcessing)

		if err := sleep(ctx, h.replyDelay); err != nil {
			return err
		}
	}
}

func (h *Handler) applyEntry(frame []byte) (TableEntry, error) {
	var e TableEntry
	copy(e.Tag[:], frame[3:3+authtable.TagSize])
	e.Auth = frame[2] != 0

	r, err := h.table.SetUserAuth(e.Tag, e.Auth)
	if err != nil {
		return e, fmt.Errorf("apply %s: %w", e.Tag, err)
	}
	e.Result = r
	metrics.RecordTableUpdate(r.String())
	h.log.Debug().
		Str("tag", e.Tag.String()).
		Bool("auth", e.Auth).
		Str("result", r.String()).
		Msg("table entry applied")
	return e, nil
}

// waitFrame polls Available until a frame arrives, the sync timeout passes
// or ctx is done. The returned error is only set for WaitCancelled.
func (h *Handler) waitFrame(ctx context.Context) (WaitOutcome, error) {
	var deadline <-chan time.Time
	if h.syncTimeout > 0 {
		timer := time.NewTimer(h.syncTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()

	for {
		if h.t.Available() {
			return WaitFrameReceived, nil
		}
		select {
		case <-ctx.Done():
			return WaitCancelled, ctx.Err()
		case <-deadline:
			return WaitTimedOut, nil
		case <-poll.C:
		}
	}
}
