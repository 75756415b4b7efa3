package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"dice-duel/engine"
	"dice-duel/models"
	"dice-duel/scoring"
)

const (
	EnqueueQueued = "queued"
	EnqueueJoined = "joined"
)

// ErrQueueStopped is returned once the queue actor has shut down.
var ErrQueueStopped = errors.New("queue is not running")

// QueueConfig controls pairing timing.
type QueueConfig struct {
	ScanInterval   time.Duration
	BotFillTimeout time.Duration
	SettleDelay    time.Duration
}

// EnqueueResult tells the caller whether they are waiting or already paired.
type EnqueueResult struct {
	Status  string                   `json:"status"`
	EntryID string                   `json:"entryId"`
	MatchID string                   `json:"matchId,omitempty"`
	Entry   *models.WaitingRoomEntry `json:"entry"`
}

type queueCmd struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// QueueService pairs players. All waiting room mutations run on one actor
// goroutine, which owns the per-mode FIFO of unpaired entry ids, so two
// players can never both claim the same open entry.
type QueueService struct {
	DB        *gorm.DB
	matches   *MatchService
	bots      *BotFactory
	cosmetics *CosmeticService
	clock     clockwork.Clock
	cfg       QueueConfig

	cmds    chan queueCmd
	stopped chan struct{}
	pending map[models.GameMode][]string
	sched   gocron.Scheduler
	baseCtx context.Context
}

func NewQueueService(db *gorm.DB, matches *MatchService, bots *BotFactory, cosmetics *CosmeticService, clock clockwork.Clock, cfg QueueConfig) *QueueService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	return &QueueService{
		DB:        db,
		matches:   matches,
		bots:      bots,
		cosmetics: cosmetics,
		clock:     clock,
		cfg:       cfg,
		cmds:      make(chan queueCmd),
		stopped:   make(chan struct{}),
		pending:   make(map[models.GameMode][]string),
	}
}

// Start rebuilds the pending lists from the store, starts the scan
// scheduler and runs the actor until ctx is done.
func (q *QueueService) Start(ctx context.Context) error {
	var open []models.WaitingRoomEntry
	if err := q.DB.WithContext(ctx).
		Where("players_required = ?", 1).
		Order("created_at ASC").
		Find(&open).Error; err != nil {
		return unavailable(err, "load waiting room")
	}
	for _, e := range open {
		q.pending[e.GameMode] = append(q.pending[e.GameMode], e.ID)
	}
	q.baseCtx = ctx
	log.Info().Int("waiting", len(open)).Msg("[QUEUE] waiting room restored")

	if err := q.startScheduler(); err != nil {
		return err
	}
	go q.loop(ctx)
	return nil
}

func (q *QueueService) loop(ctx context.Context) {
	defer close(q.stopped)
	for {
		select {
		case <-ctx.Done():
			if q.sched != nil {
				_ = q.sched.Shutdown()
			}
			return
		case cmd := <-q.cmds:
			cmd.done <- cmd.run(cmd.ctx)
		}
	}
}

// do runs fn on the actor goroutine and waits for its result.
func (q *QueueService) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := queueCmd{ctx: ctx, run: fn, done: make(chan error, 1)}
	select {
	case q.cmds <- cmd:
	case <-q.stopped:
		return ErrQueueStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue joins the oldest open entry of mode, or opens a new one. A player
// already in the waiting room gets their existing entry back.
func (q *QueueService) Enqueue(ctx context.Context, player models.QueuePlayer, mode models.GameMode) (*EnqueueResult, error) {
	if player.PlayerID == "" {
		return nil, engine.ErrInvalidPlayer
	}
	if IsBotID(player.PlayerID) {
		return nil, engine.ErrInvalidPlayer.With("player ids starting with " + botIDPrefix + " are reserved")
	}
	if _, err := scoring.ModeFor(mode); err != nil {
		return nil, engine.ErrInvalidMode.With(string(mode))
	}
	if q.cosmetics != nil {
		if err := q.cosmetics.Validate(player.EquippedCosmeticRefs); err != nil {
			return nil, err
		}
	}
	player.IsBot = false

	var result *EnqueueResult
	err := q.do(ctx, func(ctx context.Context) error {
		r, err := q.enqueue(ctx, player, mode)
		result = r
		return err
	})
	return result, err
}

func (q *QueueService) enqueue(ctx context.Context, player models.QueuePlayer, mode models.GameMode) (*EnqueueResult, error) {
	db := q.DB.WithContext(ctx)

	var existing models.WaitingRoomEntry
	err := db.Where("host_player_id = ? OR opponent_player_id = ?", player.PlayerID, player.PlayerID).
		First(&existing).Error
	if err == nil {
		return resultFor(&existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, unavailable(err, "look up queued player %s", player.PlayerID)
	}

	for _, id := range append([]string(nil), q.pending[mode]...) {
		var e models.WaitingRoomEntry
		if err := db.First(&e, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				q.dropPending(mode, id)
				continue
			}
			return nil, unavailable(err, "load entry %s", id)
		}
		if e.HostData.PlayerID == player.PlayerID {
			continue
		}
		paired, err := q.pair(ctx, &e, player)
		if err != nil {
			return nil, err
		}
		q.dropPending(mode, id)
		if !paired {
			continue
		}
		log.Info().Str("entry_id", e.ID).Str("match_id", e.MatchID).Str("mode", string(mode)).Msg("[QUEUE] 🤝 players paired")
		return resultFor(&e), nil
	}

	entry := models.WaitingRoomEntry{
		ID:              uuid.NewString(),
		GameMode:        mode,
		PlayersRequired: 1,
		HostData:        player,
		CreatedAt:       q.clock.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		return nil, unavailable(err, "create waiting room entry")
	}
	q.pending[mode] = append(q.pending[mode], entry.ID)
	log.Info().Str("entry_id", entry.ID).Str("player_id", player.PlayerID).Str("mode", string(mode)).Msg("[QUEUE] player waiting")
	return resultFor(&entry), nil
}

// pair attaches opponent to e if it is still open. It reports false when
// the entry was paired or removed in the meantime.
func (q *QueueService) pair(ctx context.Context, e *models.WaitingRoomEntry, opponent models.QueuePlayer) (bool, error) {
	now := q.clock.Now()
	candidate := *e
	candidate.OpponentData = &opponent
	candidate.OpponentPlayerID = opponent.PlayerID
	candidate.PlayersRequired = 0
	candidate.MatchID = uuid.NewString()
	candidate.PairedAt = &now

	res := q.DB.WithContext(ctx).Model(&candidate).
		Where("players_required = ?", 1).
		Select("opponent_data", "opponent_player_id", "players_required", "match_id", "paired_at").
		Updates(&candidate)
	if res.Error != nil {
		return false, unavailable(res.Error, "pair entry %s", e.ID)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	*e = candidate
	q.schedulePromotion(e)
	return true, nil
}

// LeaveQueue removes an unpaired entry owned by playerID.
func (q *QueueService) LeaveQueue(ctx context.Context, entryID, playerID string) error {
	return q.do(ctx, func(ctx context.Context) error {
		var e models.WaitingRoomEntry
		if err := q.DB.WithContext(ctx).First(&e, "id = ?", entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return engine.ErrEntryNotFound
			}
			return unavailable(err, "load entry %s", entryID)
		}
		if e.HostData.PlayerID != playerID {
			return engine.ErrNotEntryOwner
		}
		if e.PlayersRequired == 0 {
			return engine.ErrAlreadyPaired
		}
		res := q.DB.WithContext(ctx).Where("players_required = ?", 1).Delete(&models.WaitingRoomEntry{}, "id = ?", entryID)
		if res.Error != nil {
			return unavailable(res.Error, "delete entry %s", entryID)
		}
		q.dropPending(e.GameMode, entryID)
		log.Info().Str("entry_id", entryID).Str("player_id", playerID).Msg("[QUEUE] player left")
		return nil
	})
}

// GetEntry returns a waiting room entry to one of its participants.
func (q *QueueService) GetEntry(ctx context.Context, entryID, playerID string) (*models.WaitingRoomEntry, error) {
	var e models.WaitingRoomEntry
	if err := q.DB.WithContext(ctx).First(&e, "id = ?", entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrEntryNotFound
		}
		return nil, unavailable(err, "load entry %s", entryID)
	}
	if !e.Includes(playerID) {
		return nil, engine.ErrNotEntryOwner
	}
	return &e, nil
}

// Scan fills entries that waited past the bot-fill timeout with a
// synthesized opponent, then promotes every entry whose settle delay is over.
func (q *QueueService) Scan(ctx context.Context) error {
	return q.do(ctx, func(ctx context.Context) error {
		now := q.clock.Now()
		if err := q.fillWithBots(ctx, now); err != nil {
			return err
		}
		return q.promoteDue(ctx, now)
	})
}

// PromoteDue promotes every paired entry whose settle delay has elapsed.
func (q *QueueService) PromoteDue(ctx context.Context) error {
	return q.do(ctx, func(ctx context.Context) error {
		return q.promoteDue(ctx, q.clock.Now())
	})
}

func (q *QueueService) fillWithBots(ctx context.Context, now time.Time) error {
	if q.bots == nil {
		return nil
	}
	modes := make([]models.GameMode, 0, len(q.pending))
	for mode := range q.pending {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	for _, mode := range modes {
		for _, id := range append([]string(nil), q.pending[mode]...) {
			var e models.WaitingRoomEntry
			if err := q.DB.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					q.dropPending(mode, id)
					continue
				}
				return unavailable(err, "load entry %s", id)
			}
			if now.Sub(e.CreatedAt) < q.cfg.BotFillTimeout {
				// FIFO: everything behind this entry is younger.
				break
			}
			bot := q.bots.Synthesize(e.HostData)
			if q.cosmetics != nil {
				bot.EquippedCosmeticRefs = q.cosmetics.DefaultLoadout()
			}
			paired, err := q.pair(ctx, &e, bot)
			if err != nil {
				log.Warn().Err(err).Str("entry_id", id).Msg("[QUEUE] bot fill failed, retrying next scan")
				continue
			}
			q.dropPending(mode, id)
			if paired {
				log.Info().Str("entry_id", id).Str("bot", bot.DisplayName).Msg("[QUEUE] 🤖 bot opponent assigned")
			}
		}
	}
	return nil
}

func (q *QueueService) promoteDue(ctx context.Context, now time.Time) error {
	var paired []models.WaitingRoomEntry
	if err := q.DB.WithContext(ctx).
		Where("players_required = ?", 0).
		Order("paired_at ASC").
		Find(&paired).Error; err != nil {
		return unavailable(err, "load paired entries")
	}
	for i := range paired {
		e := &paired[i]
		if e.PairedAt == nil || now.Sub(*e.PairedAt) < q.cfg.SettleDelay {
			continue
		}
		if _, err := q.matches.PromoteEntry(ctx, e); err != nil {
			if errors.Is(err, engine.ErrEntryNotFound) {
				continue
			}
			log.Warn().Err(err).Str("entry_id", e.ID).Msg("[QUEUE] promotion failed, retrying next scan")
		}
	}
	return nil
}

// schedulePromotion sets a one-shot job at pairedAt + settle delay. The
// periodic scan covers any job that does not fire.
func (q *QueueService) schedulePromotion(e *models.WaitingRoomEntry) {
	if q.sched == nil || e.PairedAt == nil {
		return
	}
	at := e.PairedAt.Add(q.cfg.SettleDelay)
	if !at.After(q.clock.Now()) {
		at = q.clock.Now().Add(10 * time.Millisecond)
	}
	entryID := e.ID
	_, err := q.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(func() {
			if err := q.PromoteDue(q.baseCtx); err != nil && !errors.Is(err, ErrQueueStopped) {
				log.Warn().Err(err).Str("entry_id", entryID).Msg("[QUEUE] scheduled promotion failed")
			}
		}),
	)
	if err != nil {
		log.Warn().Err(err).Str("entry_id", entryID).Msg("[QUEUE] could not schedule promotion")
	}
}

func (q *QueueService) dropPending(mode models.GameMode, id string) {
	ids := q.pending[mode]
	for i, v := range ids {
		if v == id {
			q.pending[mode] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(q.pending[mode]) == 0 {
		delete(q.pending, mode)
	}
}

// PendingCount reports unpaired entries for mode, as seen by the actor.
func (q *QueueService) PendingCount(ctx context.Context, mode models.GameMode) (int, error) {
	var n int
	err := q.do(ctx, func(context.Context) error {
		n = len(q.pending[mode])
		return nil
	})
	return n, err
}

func resultFor(e *models.WaitingRoomEntry) *EnqueueResult {
	r := &EnqueueResult{Status: EnqueueQueued, EntryID: e.ID, Entry: e}
	if e.Paired() {
		r.Status = EnqueueJoined
		r.MatchID = e.MatchID
	}
	return r
}
