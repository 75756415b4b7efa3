package models

import "time"

// MatchHistory is the archived form of a finished match.
type MatchHistory struct {
	MatchID          string   `gorm:"primaryKey;type:varchar(64)" json:"matchId"`
	GameMode         GameMode `gorm:"type:varchar(16);index" json:"gameMode"`
	Winner           string   `gorm:"type:varchar(64);index" json:"winner"`
	HostPlayerID     string   `gorm:"type:varchar(64);index" json:"hostPlayerId"`
	OpponentPlayerID string   `gorm:"type:varchar(64);index" json:"opponentPlayerId"`
	HostScore        int      `json:"hostScore"`
	OpponentScore    int      `json:"opponentScore"`
	DurationSec      int      `json:"durationSec"`

	// Final snapshot, served to late subscribers.
	Snapshot Match `gorm:"serializer:json" json:"snapshot"`

	ArchivedAt time.Time `gorm:"autoCreateTime" json:"archivedAt"`
}

// NewMatchHistory builds the archive row for a finished match.
func NewMatchHistory(m *Match) MatchHistory {
	h := MatchHistory{
		MatchID:          m.ID,
		GameMode:         m.GameMode,
		HostPlayerID:     m.HostData.PlayerID,
		OpponentPlayerID: m.OpponentData.PlayerID,
		HostScore:        m.HostData.PlayerScore,
		OpponentScore:    m.OpponentData.PlayerScore,
		Snapshot:         *m.Clone(),
	}
	if m.Winner != nil {
		h.Winner = *m.Winner
	}
	if m.EndedAt != nil {
		h.DurationSec = int(m.EndedAt.Sub(m.StartedAt).Seconds())
	}
	return h
}
