package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"dice-duel/models"
)

const (
	// AllMatches subscribes to every match snapshot.
	AllMatches = "*"

	snapshotBuffer = 8
)

// Broadcaster fans committed match snapshots out to subscribers. With a Redis
// client, snapshots travel through pub/sub so every instance sees every
// commit; without one, delivery is in-process only.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan models.Match
	nextID uint64

	rdb    *redis.Client
	prefix string
}

func NewBroadcaster(rdb *redis.Client) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[uint64]chan models.Match),
		rdb:    rdb,
		prefix: "match:",
	}
}

// Subscribe returns a channel of snapshots for matchID (or AllMatches) and
// a cancel func that must be called to release it.
func (b *Broadcaster) Subscribe(matchID string) (<-chan models.Match, func()) {
	ch := make(chan models.Match, snapshotBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[matchID] == nil {
		b.subs[matchID] = make(map[uint64]chan models.Match)
	}
	b.subs[matchID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[matchID], id)
			if len(b.subs[matchID]) == 0 {
				delete(b.subs, matchID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// SubscribeFunc calls onChange for every snapshot of matchID until the
// returned cancel func is called.
func (b *Broadcaster) SubscribeFunc(matchID string, onChange func(models.Match)) func() {
	ch, cancel := b.Subscribe(matchID)
	go func() {
		for m := range ch {
			onChange(m)
		}
	}()
	return cancel
}

// Publish sends a committed snapshot to all subscribers.
func (b *Broadcaster) Publish(ctx context.Context, m *models.Match) {
	snapshot := *m.Clone()
	if b.rdb == nil {
		b.deliver(snapshot)
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Err(err).Str("match_id", m.ID).Msg("[STREAM] encode snapshot")
		return
	}
	if err := b.rdb.Publish(ctx, b.prefix+m.ID, payload).Err(); err != nil {
		// Redis is down: local subscribers still get the commit.
		log.Warn().Err(err).Str("match_id", m.ID).Msg("[STREAM] redis publish failed, delivering locally")
		b.deliver(snapshot)
	}
}

// Start subscribes to the Redis channels and relays snapshots until ctx is
// done. It returns once the subscription is confirmed. No-op without Redis.
func (b *Broadcaster) Start(ctx context.Context) error {
	if b.rdb == nil {
		return nil
	}
	pubsub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return eris.Wrap(err, "subscribe to match snapshots")
	}
	log.Info().Str("pattern", b.prefix+"*").Msg("[STREAM] relaying snapshots from redis")

	go func() {
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var m models.Match
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("[STREAM] dropping undecodable snapshot")
					continue
				}
				if m.ID == "" {
					m.ID = strings.TrimPrefix(msg.Channel, b.prefix)
				}
				b.deliver(m)
			}
		}
	}()
	return nil
}

// deliver never blocks the committer: a full subscriber loses its oldest
// snapshot, since the newest one supersedes it.
func (b *Broadcaster) deliver(m models.Match) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{m.ID, AllMatches} {
		for id, ch := range b.subs[key] {
			select {
			case ch <- m:
				continue
			default:
			}
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- m:
			default:
				log.Warn().Uint64("subscriber", id).Str("match_id", m.ID).Msg("[STREAM] subscriber channel full, dropping snapshot")
			}
		}
	}
}

// SubscriberCount reports live subscriptions for matchID.
func (b *Broadcaster) SubscriberCount(matchID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[matchID])
}
