// Package link implements the relay side of the radio command protocol.
//
// The controller sends one command frame at a time. The Handler answers it
// through a Transport and reports any mode change back to its caller as a
// mode.Transition; it never touches the mode itself.
package link

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
)

const (
	DefaultReplyDelay   = 20 * time.Millisecond
	DefaultPollInterval = 1 * time.Millisecond
	DefaultSyncTimeout  = 5 * time.Second
)

// SessionState is where the handler is in a command exchange.
type SessionState int

const (
	StateListening SessionState = iota
	StateProcessing
	StateTransmitting
	StateSyncWaitNext
)

func (s SessionState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateTransmitting:
		return "transmitting"
	case StateSyncWaitNext:
		return "sync_wait_next"
	default:
		return "invalid"
	}
}

// TableEntry is one table update entry that was applied.
type TableEntry struct {
	Tag    authtable.TagID
	Auth   bool
	Result authtable.UpdateResult
}

// Result describes what a processed command did.
type Result struct {
	Command    byte
	Transition mode.Transition
	Entries    []TableEntry
	Dumped     int
}

type Option func(*Handler)

func WithLogger(l zerolog.Logger) Option { return func(h *Handler) { h.log = l } }

// WithReplyDelay sets the pause between consecutive outbound frames.
func WithReplyDelay(d time.Duration) Option { return func(h *Handler) { h.replyDelay = d } }

func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithSyncTimeout bounds the wait for each follow-up table entry. Zero waits
// until the context is cancelled.
func WithSyncTimeout(d time.Duration) Option { return func(h *Handler) { h.syncTimeout = d } }

// WithStateFunc supplies the device mode reported in memory check replies.
func WithStateFunc(fn func() mode.State) Option { return func(h *Handler) { h.stateFn = fn } }

type commandFunc func(ctx context.Context, frame []byte, res *Result) error

type Handler struct {
	t      Transport
	table  *authtable.Table
	events *eventlog.List
	log    zerolog.Logger

	replyDelay   time.Duration
	pollInterval time.Duration
	syncTimeout  time.Duration
	stateFn      func() mode.State

	commands map[byte]commandFunc

	mu    sync.Mutex
	state SessionState
}

func NewHandler(t Transport, table *authtable.Table, events *eventlog.List, opts ...Option) *Handler {
	h := &Handler{
		t:            t,
		table:        table,
		events:       events,
		log:          zerolog.Nop(),
		replyDelay:   DefaultReplyDelay,
		pollInterval: DefaultPollInterval,
		syncTimeout:  DefaultSyncTimeout,
		stateFn:      func() mode.State { return mode.Enabled },
	}
	for _, o := range opts {
		o(h)
	}
	h.commands = map[byte]commandFunc{
		CmdModeAuto:    h.modeCommand(mode.ToAuto),
		CmdModeEnable:  h.modeCommand(mode.ToEnabled),
		CmdModeDisable: h.modeCommand(mode.ToDisabled),
		CmdDumpLog:     h.dumpLog,
		CmdTableUpdate: h.tableUpdate,
		CmdMemoryCheck: h.memoryCheck,
		CmdMemoryClear: h.memoryClear,
	}
	return h
}

func (h *Handler) State() SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) setState(s SessionState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// ProcessCommand reads one frame and runs the command it carries. The
// transport is always put back into listening mode before it returns.
//
// A mode command's Transition is reported even when its ack could not be
// sent: the command was received and the controller will see the new mode
// on its next exchange.
func (h *Handler) ProcessCommand(ctx context.Context) (res Result, err error) {
	h.setState(StateProcessing)
	defer func() {
		h.t.StartListening()
		h.setState(StateListening)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordLinkCommand(CommandName(res.Command), outcome)
	}()

	frame, err := h.t.Receive()
	if err != nil {
		return res, fmt.Errorf("ProcessCommand receive: %w: %w", ErrTransport, err)
	}
	if len(frame) == 0 {
		return res, fmt.Errorf("ProcessCommand: %w: empty frame", ErrShortFrame)
	}

	res.Command = frame[0]
	run, ok := h.commands[frame[0]]
	if !ok {
		return res, fmt.Errorf("%w: %#02x", ErrUnknownCommand, frame[0])
	}

	h.log.Debug().Str("command", CommandName(frame[0])).Int("len", len(frame)).Msg("link command")
	if err := run(ctx, frame, &res); err != nil {
		return res, fmt.Errorf("%s: %w", CommandName(frame[0]), err)
	}
	return res, nil
}

// send transmits one frame. The caller must have stopped listening.
func (h *Handler) send(frame []byte) error {
	h.setState(StateTransmitting)
	if err := h.t.Send(frame); err != nil {
		metrics.RecordSendFailure()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (h *Handler) modeCommand(tr mode.Transition) commandFunc {
	return func(_ context.Context, _ []byte, res *Result) error {
		res.Transition = tr
		h.t.StopListening()
		return h.send([]byte{ReplyOK})
	}
}

// dumpLog streams every pending event, one frame each, then an end frame.
// An event leaves the log only after its frame was accepted.
func (h *Handler) dumpLog(ctx context.Context, _ []byte, res *Result) error {
	h.t.StopListening()
	defer func() { metrics.SetEventsPending(h.events.Size()) }()

	for {
		remaining := h.events.Size()
		ev, ok := h.events.Peek()
		if remaining == 0 || !ok {
			break
		}

		frame := make([]byte, DumpFrameSize)
		frame[0] = ReplyOK
		frame[1] = CmdDumpLog
		frame[2] = byte(min(remaining, 0xFF))
		frame[3] = byte(ev.Type)
		binary.LittleEndian.PutUint32(frame[4:8], ev.Time)
		copy(frame[8:12], ev.TagID[:])

		if err := h.send(frame); err != nil {
			return err
		}
		h.events.Next()
		res.Dumped++

		if err := sleep(ctx, h.replyDelay); err != nil {
			return err
		}
	}
	return h.send([]byte{ReplyOK, CmdDumpLog, 0})
}

func (h *Handler) memoryCheck(_ context.Context, _ []byte, _ *Result) error {
	users, err := h.table.NumUsers()
	if err != nil {
		return err
	}
	pending := h.events.Size()
	metrics.SetEventsPending(pending)

	frame := make([]byte, MemoryReplySize)
	frame[0] = ReplyOK
	frame[1] = CmdMemoryCheck
	binary.LittleEndian.PutUint16(frame[2:4], uint16(users))
	binary.LittleEndian.PutUint16(frame[4:6], authtable.MaxUsers)
	frame[6] = byte(min(pending, 0xFF))
	frame[7] = byte(h.stateFn())

	h.t.StopListening()
	return h.send(frame)
}

func (h *Handler) memoryClear(_ context.Context, _ []byte, _ *Result) error {
	if err := h.table.ClearTable(); err != nil {
		return err
	}
	h.log.Info().Msg("authorization table cleared")
	h.t.StopListening()
	return h.send([]byte{ReplyOK})
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
