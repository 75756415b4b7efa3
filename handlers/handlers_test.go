package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dice-duel/dice"
	"dice-duel/engine"
	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
)

type testServer struct {
	app     *fiber.App
	dice    *dice.Sequence
	db      *gorm.DB
	matches *services.MatchService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.WaitingRoomEntry{},
		&models.Match{},
		&models.MatchHistory{},
		&models.UserAbility{},
		&models.Loadout{},
		&models.AbilityUsage{},
	))

	clock := clockwork.NewFakeClock()
	seq := dice.NewSequence()
	seq.Fallback = dice.NewRoller(11)
	abilities := services.NewAbilityService(db, 10)
	matches := services.NewMatchService(services.MatchDeps{
		Store:     services.NewMatchStore(db, 3),
		Resolver:  engine.NewResolver(engine.DefaultRules()),
		Roller:    seq,
		Abilities: abilities,
		Clock:     clock,
	})
	cosmetics := services.NewCosmeticService(services.DefaultCosmetics, "https://cdn.test", nil)
	queue := services.NewQueueService(db, matches, services.NewBotFactory(1), cosmetics, clock, services.QueueConfig{
		ScanInterval:   time.Hour,
		BotFillTimeout: time.Minute,
		SettleDelay:    5 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, queue.Start(ctx))

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	SetupHealthRoutes(app)
	SetupStreamRoutes(app, services.NewMatchStream(matches, clock, 0, time.Second), middleware.UserContextMiddleware())
	secured := app.Group("/", middleware.UserContextMiddleware())
	SetupQueueRoutes(secured, queue)
	SetupMatchRoutes(secured, matches)
	SetupAbilityRoutes(secured, abilities)
	SetupCosmeticRoutes(secured, cosmetics, nil)

	return &testServer{app: app, dice: seq, db: db, matches: matches}
}

// call sends a JSON request as userID ("" sends no identity) and decodes the
// response body into out when out is not nil.
func (s *testServer) call(t *testing.T, method, path, userID string, body any, out any, headers ...string) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	assert.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSecuredRoutesNeedIdentity(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, fiber.StatusUnauthorized, s.call(t, fiber.MethodGet, "/abilities", "", nil, nil))
}

func TestQueueRoutes(t *testing.T) {
	s := newTestServer(t)

	var first services.EnqueueResult
	status := s.call(t, fiber.MethodPost, "/queue/join", "alice", map[string]any{"gameMode": "classic"}, &first)
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, services.EnqueueQueued, first.Status)

	var entry models.WaitingRoomEntry
	assert.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/queue/"+first.EntryID, "alice", nil, &entry))
	assert.Equal(t, "alice", entry.HostData.PlayerID)
	assert.Equal(t, fiber.StatusForbidden, s.call(t, fiber.MethodGet, "/queue/"+first.EntryID, "mallory", nil, nil))

	var joined services.EnqueueResult
	status = s.call(t, fiber.MethodPost, "/queue/join", "bob", map[string]any{"gameMode": "classic"}, &joined)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, services.EnqueueJoined, joined.Status)
	assert.NotEmpty(t, joined.MatchID)

	var rejected errorBody
	status = s.call(t, fiber.MethodDelete, "/queue/"+first.EntryID, "alice", nil, &rejected)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, engine.ErrAlreadyPaired.Code, rejected.Code)

	status = s.call(t, fiber.MethodPost, "/queue/join", "carol", map[string]any{"gameMode": "blitz"}, &rejected)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, engine.ErrInvalidMode.Code, rejected.Code)

	status = s.call(t, fiber.MethodPost, "/queue/join", "bot-mallory", map[string]any{"gameMode": "classic"}, &rejected)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, engine.ErrInvalidPlayer.Code, rejected.Code)
}

func TestLeaveQueueRoute(t *testing.T) {
	s := newTestServer(t)

	var r services.EnqueueResult
	s.call(t, fiber.MethodPost, "/queue/join", "alice", map[string]any{"gameMode": "countdown"}, &r)

	assert.Equal(t, fiber.StatusForbidden, s.call(t, fiber.MethodDelete, "/queue/"+r.EntryID, "bob", nil, nil))
	assert.Equal(t, fiber.StatusNoContent, s.call(t, fiber.MethodDelete, "/queue/"+r.EntryID, "alice", nil, nil))
	assert.Equal(t, fiber.StatusNotFound, s.call(t, fiber.MethodGet, "/queue/"+r.EntryID, "alice", nil, nil))
}

func TestMatchRoutes(t *testing.T) {
	s := newTestServer(t)

	s.dice.Push(2) // the host chooses turn order
	var m models.Match
	status := s.call(t, fiber.MethodPost, "/matches", "alice", map[string]any{"gameMode": "classic", "opponentId": "bob"}, &m)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, models.PhaseTurnDecider, m.GamePhase)

	var e errorBody
	assert.Equal(t, fiber.StatusConflict, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/roll", "alice", nil, &e))
	assert.Equal(t, engine.ErrWrongPhase.Code, e.Code)

	assert.Equal(t, fiber.StatusForbidden, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/turn-decider", "bob", map[string]any{"choice": "odd"}, &e))
	assert.Equal(t, engine.ErrNotChooser.Code, e.Code)

	s.dice.Push(4)
	status = s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/turn-decider", "alice", map[string]any{"choice": "even"}, &m)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, m.HostData.TurnActive)

	assert.Equal(t, fiber.StatusForbidden, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/roll", "bob", nil, &e))
	assert.Equal(t, engine.ErrNotYourTurn.Code, e.Code)
	assert.Equal(t, fiber.StatusForbidden, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/roll", "mallory", nil, &e))
	assert.Equal(t, engine.ErrNotParticipant.Code, e.Code)

	assert.Equal(t, fiber.StatusConflict, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/bank", "alice", nil, &e))
	assert.Equal(t, engine.ErrNothingToBank.Code, e.Code)

	s.dice.Push(5, 6)
	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/roll", "alice", nil, &m))
	assert.Equal(t, 11, m.TurnScore)

	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/bank", "alice", nil, &m))
	assert.Equal(t, 11, m.HostData.PlayerScore)

	var got models.Match
	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/matches/"+m.ID, "bob", nil, &got))
	assert.Equal(t, m.Version, got.Version)

	var list struct {
		Matches []models.Match `json:"matches"`
	}
	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/matches?status=active&player_id=bob", "bob", nil, &list))
	require.Len(t, list.Matches, 1)
	assert.Equal(t, m.ID, list.Matches[0].ID)

	assert.Equal(t, fiber.StatusNotFound, s.call(t, fiber.MethodGet, "/matches/nope", "bob", nil, &e))
	assert.Equal(t, engine.ErrMatchNotFound.Code, e.Code)
}

func TestAbilityIntentRoute(t *testing.T) {
	s := newTestServer(t)

	s.dice.Push(2)
	var m models.Match
	s.call(t, fiber.MethodPost, "/matches", "alice", map[string]any{"gameMode": "classic", "opponentId": "bob"}, &m)
	s.dice.Push(4)
	s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/turn-decider", "alice", map[string]any{"choice": "even"}, &m)

	var e errorBody
	assert.Equal(t, fiber.StatusBadRequest, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/abilities", "alice", map[string]any{"abilityId": "focus"}, &e))
	assert.Equal(t, engine.ErrMissingIntentID.Code, e.Code)

	var used models.Match
	status := s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/abilities", "alice", map[string]any{"abilityId": "focus"}, &used, "Idempotency-Key", "key-1")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 2, used.TurnScore)

	var replay models.Match
	status = s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/abilities", "alice", map[string]any{"abilityId": "focus", "intentId": "key-1"}, &replay)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, used.Version, replay.Version)

	assert.Equal(t, fiber.StatusUnprocessableEntity, s.call(t, fiber.MethodPost, "/matches/"+m.ID+"/abilities", "alice", map[string]any{"abilityId": "focus", "intentId": "key-2"}, &e))
	assert.Equal(t, engine.ErrOnCooldown.Code, e.Code)
}

func TestAbilityAndLoadoutRoutes(t *testing.T) {
	s := newTestServer(t)

	var catalog struct {
		Abilities  []models.AbilityDefinition `json:"abilities"`
		StarBudget int                        `json:"starBudget"`
	}
	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/abilities", "alice", nil, &catalog))
	assert.Len(t, catalog.Abilities, len(models.AbilityCatalog))
	assert.Equal(t, 10, catalog.StarBudget)

	unlock := map[string]string{"playerId": "alice", "abilityId": "score_surge"}
	assert.Equal(t, fiber.StatusForbidden, s.call(t, fiber.MethodPost, "/admin/abilities/unlock", "alice", unlock, nil))
	assert.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodPost, "/admin/abilities/unlock", "ops", unlock, nil, "X-User-Roles", "admin"))

	var unlocked struct {
		Unlocked []string `json:"unlocked"`
	}
	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/users/me/abilities", "alice", nil, &unlocked))
	assert.ElementsMatch(t, []string{"focus", "score_surge"}, unlocked.Unlocked)

	var l models.Loadout
	status := s.call(t, fiber.MethodPut, "/users/me/loadout", "alice", map[string]any{"slots": map[string]string{"tactical": "score_surge"}}, &l)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 3, l.TotalStars)

	var e errorBody
	status = s.call(t, fiber.MethodPut, "/users/me/loadout", "alice", map[string]any{"slots": map[string]string{"attack": "score_surge"}}, &e)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, engine.ErrInvalidLoadout.Code, e.Code)

	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/users/me/loadout", "alice", nil, &l))
	assert.Equal(t, "score_surge", l.Slots[models.CategoryTactical])
}

func TestCosmeticCatalogRoute(t *testing.T) {
	s := newTestServer(t)

	var body struct {
		Cosmetics []services.ResolvedCosmetic `json:"cosmetics"`
	}
	require.Equal(t, fiber.StatusOK, s.call(t, fiber.MethodGet, "/cosmetics", "alice", nil, &body))
	require.Len(t, body.Cosmetics, len(services.DefaultCosmetics))
	assert.True(t, strings.HasPrefix(body.Cosmetics[0].URL, "https://cdn.test/"))

	assert.Equal(t, fiber.StatusNotFound, s.call(t, fiber.MethodPost, "/admin/cosmetics/image/neon-grid/asset", "ops", nil, nil, "X-User-Roles", "admin"),
		"upload route is absent without an uploader")
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(fiber.MethodPost, "/queue/join", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "alice")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSSEStreamsArchivedMatch(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	s.dice.Push(2)
	m, err := s.matches.CreateMatch(ctx, models.GameModeSingleRoll, models.QueuePlayer{PlayerID: "alice"}, models.QueuePlayer{PlayerID: "bob"})
	require.NoError(t, err)
	s.dice.Push(4)
	_, err = s.matches.MakeTurnDeciderChoice(ctx, m.ID, "alice", models.ParityEven)
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&models.Match{}).Where("id = ?", m.ID).Update("host_player_score", 55).Error)
	s.dice.Push(6, 6)
	_, err = s.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodGet, "/matches/"+m.ID+"/stream", nil)
	req.Header.Set("X-User-ID", "bob")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: "+services.StreamArchived+"\n")
	assert.Contains(t, string(body), `"gamePhase":"gameOver"`)
}

func TestSSEUnknownMatch(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(fiber.MethodGet, "/matches/ghost/stream", nil)
	req.Header.Set("X-User-ID", "bob")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: "+services.StreamNotFound+"\n")
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(fiber.MethodGet, "/matches/m1/ws", nil)
	req.Header.Set("X-User-ID", "bob")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestUnknownRouteIsJSON(t *testing.T) {
	s := newTestServer(t)
	var e errorBody
	assert.Equal(t, fiber.StatusNotFound, s.call(t, fiber.MethodGet, "/nowhere", "alice", nil, &e))
	assert.NotEmpty(t, e.Error)
}
