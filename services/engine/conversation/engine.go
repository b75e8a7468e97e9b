// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
	"github.com/GymPulseAI/GymPulse/services/engine/observability"
)

const (
	defaultParseTimeout = 5 * time.Second
	defaultMatchTimeout = 3 * time.Second
	defaultSendTimeout  = 10 * time.Second

	upsertAttempts    = 3
	upsertBackoffBase = 50 * time.Millisecond
)

// Config wires an Engine. Parser, Matcher, Prefs and Pending are required;
// everything else has a working default.
type Config struct {
	Parser     PreferenceParser
	Matcher    ExerciseMatcher
	Prefs      PreferenceStore
	Pending    DisambiguationStore
	FlowState  FlowStateStore
	Transcript TranscriptLog
	Flows      FlowConfigSource
	Notifier   Notifier
	Transport  Transport
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	// ParseTimeout bounds one NL parse call; on expiry the turn degrades to
	// "no fields parsed" instead of failing.
	ParseTimeout time.Duration
	// MatchTimeout bounds one exercise matcher call per phrase.
	MatchTimeout time.Duration

	// SendRate and SendBurst throttle outbound deliveries across all
	// sessions. Zero SendRate means unlimited.
	SendRate  rate.Limit
	SendBurst int
}

// Engine runs one conversation turn at a time per (user, session) pair. It
// owns the step state machine and the merge rules; delivery, parsing and
// matching are delegated through the Config interfaces.
type Engine struct {
	parser     PreferenceParser
	matcher    ExerciseMatcher
	prefs      PreferenceStore
	pending    DisambiguationStore
	flowState  FlowStateStore
	transcript TranscriptLog
	flows      FlowConfigSource
	notifier   Notifier
	transport  Transport
	updates    *UpdateParser
	metrics    *observability.Metrics
	logger     *slog.Logger
	locks      *sessionLocks

	parseTimeout time.Duration
	matchTimeout time.Duration
	sendLimiter  *rate.Limiter
}

// noopTransport drops outbound messages. Used when no transport is wired,
// e.g. in tests that only assert on TurnReply.
type noopTransport struct{}

func (noopTransport) Send(context.Context, datatypes.InboundMessage, string) error { return nil }

// NewEngine validates cfg and builds a ready Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Parser == nil || cfg.Matcher == nil || cfg.Prefs == nil || cfg.Pending == nil {
		return nil, errors.New("conversation: Parser, Matcher, Prefs and Pending are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NoopNotifier{}
	}
	if cfg.Transport == nil {
		cfg.Transport = noopTransport{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = defaultParseTimeout
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = defaultMatchTimeout
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = rate.Inf
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}

	return &Engine{
		parser:       cfg.Parser,
		matcher:      cfg.Matcher,
		prefs:        cfg.Prefs,
		pending:      cfg.Pending,
		flowState:    cfg.FlowState,
		transcript:   cfg.Transcript,
		flows:        cfg.Flows,
		notifier:     cfg.Notifier,
		transport:    cfg.Transport,
		updates:      NewUpdateParser(cfg.Matcher),
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		locks:        newSessionLocks(),
		parseTimeout: cfg.ParseTimeout,
		matchTimeout: cfg.MatchTimeout,
		sendLimiter:  rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
	}, nil
}

// ProcessMessage runs one inbound message through the flow governing its
// session and returns the reply. The reply text is durably committed before
// return; actual delivery happens asynchronously through the transport and
// never affects the returned state.
func (e *Engine) ProcessMessage(ctx context.Context, msg datatypes.InboundMessage) (*datatypes.TurnReply, error) {
	release := e.locks.Acquire(msg.UserID, msg.SessionID)
	defer release()

	e.record(ctx, msg, datatypes.DirectionInbound, msg.Text)

	flowLabel, reply, err := e.route(ctx, msg)
	if err != nil {
		e.metrics.TurnsTotal.WithLabelValues(flowLabel, "error").Inc()
		return nil, err
	}
	e.metrics.TurnsTotal.WithLabelValues(flowLabel, "ok").Inc()

	e.record(ctx, msg, datatypes.DirectionOutbound, reply.Text)
	e.dispatch(msg, reply.Text)
	return reply, nil
}

// upsertRecord writes the authoritative record with bounded retry. The last
// failure is wrapped in a PersistenceError; the caller must fail the turn
// without partial state in that case.
func (e *Engine) upsertRecord(ctx context.Context, rec *datatypes.PreferenceRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	var err error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		if attempt > 0 {
			e.metrics.StoreRetriesTotal.Inc()
			select {
			case <-time.After(upsertBackoffBase << (attempt - 1)):
			case <-ctx.Done():
				return &PersistenceError{Op: "upsert", Err: ctx.Err()}
			}
		}
		if err = e.prefs.Upsert(ctx, rec); err == nil {
			return nil
		}
		e.logger.Warn("preference upsert failed",
			"userId", rec.UserID, "sessionId", rec.SessionID,
			"attempt", attempt+1, "error", err)
	}
	return &PersistenceError{Op: "upsert", Err: err}
}

// advance moves the step through one edge of the transition table. An
// illegal edge is counted and recovered to the safe step.
func (e *Engine) advance(from datatypes.ConversationStep, flags TransitionFlags) datatypes.ConversationStep {
	next, err := CheckTransition(from, NextStep(from, flags))
	if err != nil {
		e.metrics.TransitionFaultsTotal.Inc()
	}
	return next
}

// record appends a transcript entry. Best effort; errors are logged only.
func (e *Engine) record(ctx context.Context, msg datatypes.InboundMessage, dir datatypes.MessageDirection, text string) {
	if e.transcript == nil {
		return
	}
	entry := &datatypes.TranscriptEntry{
		ID:         uuid.NewString(),
		UserID:     msg.UserID,
		SessionID:  msg.SessionID,
		BusinessID: msg.BusinessID,
		Direction:  dir,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.transcript.Record(ctx, entry); err != nil {
		e.logger.Warn("transcript write dropped",
			"sessionId", msg.SessionID, "direction", string(dir), "error", err)
	}
}

// dispatch hands the reply to the transport off the request path. The send
// is rate limited globally; a failed or dropped send never rolls back the
// committed turn.
func (e *Engine) dispatch(msg datatypes.InboundMessage, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		defer cancel()

		if err := e.sendLimiter.Wait(ctx); err != nil {
			e.logger.Warn("outbound send dropped at rate limiter",
				"sessionId", msg.SessionID, "error", err)
			return
		}
		if err := e.transport.Send(ctx, msg, text); err != nil {
			e.logger.Error("outbound send failed",
				"sessionId", msg.SessionID, "channel", string(msg.Channel), "error", err)
		}
	}()
}
