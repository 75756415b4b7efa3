package services

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"dice-duel/engine"
	"dice-duel/models"
)

const (
	StreamSnapshot = "snapshot"
	StreamArchived = "archived"
	StreamNotFound = "not_found"
)

// StreamEvent is one message on a match subscription.
type StreamEvent struct {
	Type  string        `json:"type"`
	Match *models.Match `json:"match,omitempty"`
}

// MatchStream serves match subscriptions to transports (SSE, WebSocket).
type MatchStream struct {
	matches      *MatchService
	clock        clockwork.Clock
	grace        time.Duration
	pollInterval time.Duration
}

func NewMatchStream(matches *MatchService, clock clockwork.Clock, grace, pollInterval time.Duration) *MatchStream {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &MatchStream{matches: matches, clock: clock, grace: grace, pollInterval: pollInterval}
}

// Open subscribes to matchID. The channel yields the current snapshot, then
// every committed change, and closes after the final gameOver snapshot, after
// "not_found", or when ctx is done.
//
// A match that cannot be found is re-checked until the grace window passes,
// since a subscriber may arrive a moment before promotion commits.
func (s *MatchStream) Open(ctx context.Context, matchID string) <-chan StreamEvent {
	out := make(chan StreamEvent, snapshotBuffer)
	updates, cancel := s.matches.Broadcaster().Subscribe(matchID)

	go func() {
		defer close(out)
		defer cancel()

		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		current, err := s.awaitMatch(ctx, matchID, updates)
		switch {
		case errors.Is(err, engine.ErrMatchNotFound):
			send(StreamEvent{Type: StreamNotFound})
			return
		case err != nil:
			log.Debug().Err(err).Str("match_id", matchID).Msg("[STREAM] subscription ended before first snapshot")
			return
		}

		if current.GamePhase == models.PhaseGameOver {
			send(StreamEvent{Type: StreamArchived, Match: current})
			return
		}
		if !send(StreamEvent{Type: StreamSnapshot, Match: current}) {
			return
		}

		lastVersion := current.Version
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-updates:
				if !ok {
					return
				}
				if m.Version <= lastVersion {
					continue
				}
				lastVersion = m.Version
				snapshot := m
				if !send(StreamEvent{Type: StreamSnapshot, Match: &snapshot}) {
					return
				}
				if m.GamePhase == models.PhaseGameOver {
					return
				}
			}
		}
	}()
	return out
}

// awaitMatch loads the match, retrying through the grace window.
func (s *MatchStream) awaitMatch(ctx context.Context, matchID string, updates <-chan models.Match) (*models.Match, error) {
	deadline := s.clock.Now().Add(s.grace)
	for {
		m, err := s.matches.GetMatch(ctx, matchID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, engine.ErrMatchNotFound) && !errors.Is(err, engine.ErrUnavailable) {
			return nil, err
		}
		if !s.clock.Now().Before(deadline) {
			if errors.Is(err, engine.ErrUnavailable) {
				return nil, err
			}
			return nil, engine.ErrMatchNotFound
		}

		wait := min(s.pollInterval, deadline.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-updates:
			if !ok {
				return nil, engine.ErrUnavailable.With("subscription closed")
			}
			snapshot := m
			return &snapshot, nil
		case <-s.clock.After(wait):
		}
	}
}
