// Package relay decides whether a presented tag may operate the relay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
)

const (
	ReasonDisabled      = "disabled"
	ReasonUnknownTag    = "unknown_tag"
	ReasonAuthorized    = "authorized"
	ReasonNotAuthorized = "not_authorized"
)

// Actuator drives the physical relay.
type Actuator interface {
	Pulse(ctx context.Context) error
}

// LogActuator only logs. It stands in for the relay output when none is
// attached.
type LogActuator struct {
	Logger   zerolog.Logger
	Duration time.Duration
}

func (a LogActuator) Pulse(_ context.Context) error {
	a.Logger.Info().Dur("duration", a.Duration).Msg("relay pulse")
	return nil
}

type Decision struct {
	Tag     authtable.TagID `json:"-"`
	TagID   string          `json:"tag_id"`
	Known   bool            `json:"known"`
	Granted bool            `json:"granted"`
	Reason  string          `json:"reason"`
	Mode    string          `json:"mode"`
}

type Service struct {
	table    *authtable.Table
	events   *eventlog.List
	mode     *mode.Controller
	actuator Actuator
	log      zerolog.Logger
}

func NewService(table *authtable.Table, events *eventlog.List, ctl *mode.Controller, act Actuator, log zerolog.Logger) *Service {
	return &Service{table: table, events: events, mode: ctl, actuator: act, log: log}
}

// Decide looks tag up and, when it is authorized and the relay is not
// disabled, pulses the actuator. Every presentation is logged to the event
// log; a full log is reported but does not change the decision.
//
// A failed pulse returns an error and the presentation is logged as Fail.
func (s *Service) Decide(ctx context.Context, tag authtable.TagID) (Decision, error) {
	state := s.mode.State()
	d := Decision{Tag: tag, TagID: tag.String(), Mode: state.String()}

	known, authorized, err := s.table.Lookup(tag)
	if err != nil {
		return d, fmt.Errorf("Decide lookup: %w", err)
	}
	d.Known = known

	switch {
	case state == mode.Disabled:
		d.Reason = ReasonDisabled
		s.record(eventlog.Fail, d)
		return d, nil
	case !known:
		d.Reason = ReasonUnknownTag
		s.record(eventlog.Unknown, d)
		return d, nil
	case !authorized:
		d.Reason = ReasonNotAuthorized
		s.record(eventlog.Fail, d)
		return d, nil
	}

	if err := s.actuator.Pulse(ctx); err != nil {
		d.Reason = "actuator_error"
		s.record(eventlog.Fail, d)
		return d, fmt.Errorf("Decide pulse: %w", err)
	}
	d.Granted = true
	d.Reason = ReasonAuthorized
	if s.mode.ConfirmAuto() {
		d.Mode = mode.AutoConfirmed.String()
	}
	s.record(eventlog.Confirm, d)
	return d, nil
}

func (s *Service) record(t eventlog.EventType, d Decision) {
	metrics.RecordDecision(d.Granted, d.Reason)

	err := s.events.Add(t, d.Tag)
	if errors.Is(err, eventlog.ErrFull) {
		metrics.RecordEventDropped()
		s.log.Warn().Str("tag", d.TagID).Str("type", t.String()).Msg("event log full, access event dropped")
	}
	metrics.SetEventsPending(s.events.Size())

	s.log.Info().
		Str("tag", d.TagID).
		Bool("granted", d.Granted).
		Str("reason", d.Reason).
		Str("mode", d.Mode).
		Msg("access decision")
}
