package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dice-duel/engine"
	"dice-duel/models"
)

var (
	// ErrVersionConflict means another writer committed first.
	ErrVersionConflict = errors.New("match version conflict")
	// ErrNoChange aborts a mutation without writing. Mutate returns it as is.
	ErrNoChange = errors.New("no change")
)

// MatchStore persists match records with optimistic concurrency on Version.
type MatchStore struct {
	DB          *gorm.DB
	maxAttempts uint
	newBackOff  func() backoff.BackOff
}

func NewMatchStore(db *gorm.DB, maxAttempts uint) *MatchStore {
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	return &MatchStore{
		DB:          db,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 250 * time.Millisecond
			return b
		},
	}
}

// MatchFilter narrows List. Empty fields match everything.
type MatchFilter struct {
	Status   models.MatchStatus
	GameMode models.GameMode
	PlayerID string
	Limit    int
}

func (s *MatchStore) Create(ctx context.Context, m *models.Match) error {
	if err := s.DB.WithContext(ctx).Create(m).Error; err != nil {
		return unavailable(err, "create match %s", m.ID)
	}
	return nil
}

// CreateFromEntry inserts the match and removes the waiting room entry it was
// promoted from in one transaction.
func (s *MatchStore) CreateFromEntry(ctx context.Context, m *models.Match, entryID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.WaitingRoomEntry{}, "id = ?", entryID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return engine.ErrEntryNotFound
		}
		return nil
	})
	if err != nil {
		if engine.IsRejection(err) {
			return err
		}
		return unavailable(err, "promote entry %s", entryID)
	}
	return nil
}

// Get loads a live match. Archived matches are not returned; see GetHistory.
func (s *MatchStore) Get(ctx context.Context, id string) (*models.Match, error) {
	return s.get(s.DB.WithContext(ctx), id)
}

func (s *MatchStore) get(db *gorm.DB, id string) (*models.Match, error) {
	var m models.Match
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrMatchNotFound
		}
		return nil, unavailable(err, "load match %s", id)
	}
	return &m, nil
}

func (s *MatchStore) List(ctx context.Context, f MatchFilter) ([]models.Match, error) {
	q := s.DB.WithContext(ctx).Model(&models.Match{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.GameMode != "" {
		q = q.Where("game_mode = ?", f.GameMode)
	}
	if f.PlayerID != "" {
		q = q.Where("host_player_id = ? OR opponent_player_id = ?", f.PlayerID, f.PlayerID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var matches []models.Match
	if err := q.Order("created_at DESC").Limit(limit).Find(&matches).Error; err != nil {
		return nil, unavailable(err, "list matches")
	}
	return matches, nil
}

// MutateFunc applies an intent inside the store transaction. Returning an
// error aborts without writing.
type MutateFunc func(tx *gorm.DB, m *models.Match) error

// Mutate loads the match, applies fn and compare-and-swaps the result. A
// version conflict reloads and re-applies fn, up to the configured attempts.
func (s *MatchStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.Match, error) {
	attempt := 0
	op := func() (*models.Match, error) {
		attempt++
		var out *models.Match
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			m, err := s.get(tx, id)
			if err != nil {
				return err
			}
			expected := m.Version
			if err := fn(tx, m); err != nil {
				return err
			}
			m.Version = expected + 1
			if err := s.swap(tx, m, expected); err != nil {
				return err
			}
			out = m
			return nil
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			log.Debug().Str("match_id", id).Int("attempt", attempt).Msg("[MATCH] version conflict, retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	m, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxAttempts),
	)
	if err != nil {
		// Retry hands back the wrapper when the last allowed try was permanent.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if errors.Is(err, ErrVersionConflict) {
			return nil, engine.ErrUnavailable.With("match is busy, retry")
		}
		var domainErr *engine.Error
		if errors.As(err, &domainErr) || errors.Is(err, ErrNoChange) {
			return nil, err
		}
		var transient *transientError
		if errors.As(err, &transient) {
			return nil, err
		}
		return nil, unavailable(err, "mutate match %s", id)
	}
	return m, nil
}

// swap writes every column of m when the stored version still equals expected.
func (s *MatchStore) swap(tx *gorm.DB, m *models.Match, expected int64) error {
	res := tx.Model(m).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Archive copies a finished match into match_histories and removes the live row.
func (s *MatchStore) Archive(ctx context.Context, m *models.Match) error {
	if m.GamePhase != models.PhaseGameOver {
		return engine.ErrWrongPhase.With("only finished matches are archived")
	}
	history := models.NewMatchHistory(m)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&history).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Match{}, "id = ?", m.ID).Error
	})
	if err != nil {
		return unavailable(err, "archive match %s", m.ID)
	}
	return nil
}

func (s *MatchStore) GetHistory(ctx context.Context, id string) (*models.MatchHistory, error) {
	var h models.MatchHistory
	if err := s.DB.WithContext(ctx).First(&h, "match_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrMatchNotFound
		}
		return nil, unavailable(err, "load history %s", id)
	}
	return &h, nil
}

// ListFinished returns finished matches that still have a live row.
func (s *MatchStore) ListFinished(ctx context.Context, limit int) ([]models.Match, error) {
	var matches []models.Match
	err := s.DB.WithContext(ctx).
		Where("game_phase = ?", models.PhaseGameOver).
		Order("updated_at ASC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, unavailable(err, "list finished matches")
	}
	return matches, nil
}

// ListStaleRolls returns matches whose roll claim is older than before.
// The age check runs in Go so timestamps compare the same on every driver.
func (s *MatchStore) ListStaleRolls(ctx context.Context, before time.Time, limit int) ([]models.Match, error) {
	var rolling []models.Match
	err := s.DB.WithContext(ctx).
		Where("is_rolling = ?", true).
		Order("updated_at ASC").
		Find(&rolling).Error
	if err != nil {
		return nil, unavailable(err, "list stale rolls")
	}
	stale := make([]models.Match, 0, len(rolling))
	for _, m := range rolling {
		if m.RollingSince == nil || !m.RollingSince.Before(before) {
			continue
		}
		stale = append(stale, m)
		if limit > 0 && len(stale) == limit {
			break
		}
	}
	return stale, nil
}

// unavailable wraps an infrastructure failure as a transient error.
func unavailable(err error, format string, args ...any) error {
	return &transientError{cause: eris.Wrapf(err, format, args...)}
}

// transientError keeps the eris trace while matching engine.ErrUnavailable.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }
func (e *transientError) Is(target error) bool {
	return target == engine.ErrUnavailable
}
