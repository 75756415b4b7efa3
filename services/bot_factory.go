package services

import (
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dice-duel/models"
)

const botIDPrefix = "bot-"

// botRoster is the pool of names synthesized opponents are drawn from.
var botRoster = []string{
	"lucky lucia",
	"snake eyes sam",
	"boxcar bella",
	"double down dmitri",
	"high roller hana",
	"pip counter pete",
	"cold streak carmen",
	"loaded lou",
	"nat six nadia",
	"craps kenji",
	"even odds ezra",
	"bankroll bea",
}

// BotFactory synthesizes opponents whose profiles look like the player they
// face, so the "opponent found" card is believable.
type BotFactory struct {
	mu     sync.Mutex
	rng    *rand.Rand
	titler cases.Caser
}

func NewBotFactory(seed int64) *BotFactory {
	return &BotFactory{
		rng:    rand.New(rand.NewSource(seed)),
		titler: cases.Title(language.English),
	}
}

// IsBotID reports whether id belongs to a synthesized opponent.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, botIDPrefix)
}

// Synthesize builds an opponent with stats within a plausible band of host.
func (f *BotFactory) Synthesize(host models.QueuePlayer) models.QueuePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := f.titler.String(botRoster[f.rng.Intn(len(botRoster))])
	handle := slug.Make(name)

	level := max(1, host.Stats.Level+f.rng.Intn(5)-2)
	games := max(5, host.Stats.GamesPlayed+f.rng.Intn(21)-10)
	winRate := 0.35 + f.rng.Float64()*0.3
	if host.Stats.GamesPlayed > 0 {
		// Hover around the host's own win rate.
		winRate = clamp(host.Stats.WinRate+(f.rng.Float64()-0.5)*0.2, 0.2, 0.8)
	}
	wins := int(math.Round(float64(games) * winRate))

	return models.QueuePlayer{
		PlayerID:    botIDPrefix + handle + "-" + uuid.NewString()[:8],
		DisplayName: name,
		IsBot:       true,
		Stats: models.ProfileStats{
			GamesPlayed: games,
			Wins:        wins,
			Level:       level,
			WinRate:     math.Round(float64(wins)/float64(games)*100) / 100,
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
