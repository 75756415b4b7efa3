package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"dice-duel/engine"
	"dice-duel/models"
)

const (
	TelemetryRoll         = "roll"
	TelemetryTurnComplete = "turn_completed"
	TelemetryAbility      = "ability_used"
	TelemetryMatchSummary = "match_summary"
)

// TelemetryEvent is one fire-and-forget analytics record.
type TelemetryEvent struct {
	Type     string          `json:"type"`
	MatchID  string          `json:"matchId"`
	PlayerID string          `json:"playerId,omitempty"`
	GameMode models.GameMode `json:"gameMode"`
	At       time.Time       `json:"at"`
	Data     map[string]any  `json:"data"`
}

// TelemetrySink receives telemetry events off the request path.
type TelemetrySink interface {
	Emit(ctx context.Context, ev TelemetryEvent) error
}

// Telemetry queues events for a background worker. A full queue drops
// events; gameplay never waits on analytics.
type Telemetry struct {
	sinks []TelemetrySink
	queue chan TelemetryEvent
	now   func() time.Time
}

func NewTelemetry(buffer int, sinks ...TelemetrySink) *Telemetry {
	if buffer <= 0 {
		buffer = 256
	}
	return &Telemetry{
		sinks: sinks,
		queue: make(chan TelemetryEvent, buffer),
		now:   time.Now,
	}
}

// Start drains the queue until ctx is done.
func (t *Telemetry) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-t.queue:
				for _, sink := range t.sinks {
					if err := sink.Emit(ctx, ev); err != nil {
						log.Warn().Err(err).Str("type", ev.Type).Msg("[TELEMETRY] sink failed")
					}
				}
			}
		}
	}()
}

// Record translates resolver events into telemetry for a committed match.
func (t *Telemetry) Record(m *models.Match, events []engine.Event) {
	if t == nil {
		return
	}
	now := t.now()
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case engine.DiceRolledPayload:
			t.enqueue(TelemetryEvent{
				Type: TelemetryRoll, MatchID: m.ID, PlayerID: ev.PlayerID, GameMode: m.GameMode, At: now,
				Data: map[string]any{"diceOne": p.DiceOne, "diceTwo": p.DiceTwo, "turnScore": p.TurnScore, "bust": p.Bust, "loaded": p.Loaded},
			})
		case engine.TurnEndedPayload:
			t.enqueue(TelemetryEvent{
				Type: TelemetryTurnComplete, MatchID: m.ID, PlayerID: ev.PlayerID, GameMode: m.GameMode, At: now,
				Data: map[string]any{"bust": p.Bust, "banked": p.Banked, "next": p.NextPlayerID},
			})
		case engine.AbilityUsedPayload:
			t.enqueue(TelemetryEvent{
				Type: TelemetryAbility, MatchID: m.ID, PlayerID: ev.PlayerID, GameMode: m.GameMode, At: now,
				Data: map[string]any{"ability": p.AbilityID, "tier": p.Tier, "cost": p.AuraCost, "blocked": p.Blocked},
			})
		case engine.MatchEndedPayload:
			t.enqueue(MatchSummary(m, now))
		}
	}
}

func (t *Telemetry) enqueue(ev TelemetryEvent) {
	select {
	case t.queue <- ev:
	default:
		log.Warn().Str("type", ev.Type).Str("match_id", ev.MatchID).Msg("[TELEMETRY] queue full, dropping event")
	}
}

// MatchSummary builds the end-of-match record.
func MatchSummary(m *models.Match, now time.Time) TelemetryEvent {
	end := now
	if m.EndedAt != nil {
		end = *m.EndedAt
	}
	winner := ""
	if m.Winner != nil {
		winner = *m.Winner
	}
	player := func(p models.PlayerState) map[string]any {
		return map[string]any{
			"playerId":       p.PlayerID,
			"isBot":          p.IsBot,
			"score":          p.PlayerScore,
			"rolls":          p.Stats.RollCount,
			"busts":          p.Stats.BustCount,
			"turns":          p.Stats.TurnsPlayed,
			"bestTurn":       p.Stats.BestTurn,
			"bestBankStreak": p.Stats.BestBankStreak,
		}
	}
	return TelemetryEvent{
		Type:     TelemetryMatchSummary,
		MatchID:  m.ID,
		PlayerID: winner,
		GameMode: m.GameMode,
		At:       now,
		Data: map[string]any{
			"winner":      winner,
			"durationSec": int(end.Sub(m.StartedAt).Seconds()),
			"host":        player(m.HostData),
			"opponent":    player(m.OpponentData),
		},
	}
}

// LogSink writes telemetry to the structured log.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, ev TelemetryEvent) error {
	log.Info().
		Str("type", ev.Type).
		Str("match_id", ev.MatchID).
		Str("player_id", ev.PlayerID).
		Str("game_mode", string(ev.GameMode)).
		Interface("data", ev.Data).
		Msg("[TELEMETRY]")
	return nil
}

// RedisStreamSink appends telemetry to a Redis stream for downstream batching.
type RedisStreamSink struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

func (s RedisStreamSink) Emit(ctx context.Context, ev TelemetryEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return eris.Wrap(err, "encode telemetry data")
	}
	args := &redis.XAddArgs{
		Stream: s.Stream,
		Values: map[string]any{
			"type":     ev.Type,
			"matchId":  ev.MatchID,
			"playerId": ev.PlayerID,
			"gameMode": string(ev.GameMode),
			"at":       ev.At.UTC().Format(time.RFC3339Nano),
			"data":     string(data),
		},
	}
	if s.MaxLen > 0 {
		args.MaxLen = s.MaxLen
		args.Approx = true
	}
	if err := s.Client.XAdd(ctx, args).Err(); err != nil {
		return eris.Wrapf(err, "xadd %s", s.Stream)
	}
	return nil
}
