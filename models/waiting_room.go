// models/waiting_room.go
package models

import "time"

// WaitingRoomEntry is a queued player waiting for an opponent. Once paired it
// carries the id of the match it will be promoted into.
type WaitingRoomEntry struct {
	ID              string   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	GameMode        GameMode `gorm:"type:varchar(16);index:idx_waiting_mode;not null" json:"gameMode"`
	PlayersRequired int      `gorm:"index:idx_waiting_mode;not null" json:"playersRequired"`

	HostData         QueuePlayer  `gorm:"embedded;embeddedPrefix:host_" json:"hostData"`
	OpponentData     *QueuePlayer `gorm:"serializer:json" json:"opponentData,omitempty"`
	OpponentPlayerID string       `gorm:"type:varchar(64);index" json:"-"`

	MatchID  string     `gorm:"type:varchar(64)" json:"matchId,omitempty"`
	PairedAt *time.Time `gorm:"index" json:"pairedAt,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// QueuePlayer is the public profile a player brings into the waiting room.
type QueuePlayer struct {
	PlayerID             string        `gorm:"type:varchar(64);index" json:"playerId"`
	DisplayName          string        `json:"displayName"`
	IsBot                bool          `json:"isBot"`
	Stats                ProfileStats  `gorm:"serializer:json" json:"stats"`
	EquippedCosmeticRefs []CosmeticRef `gorm:"serializer:json" json:"equippedCosmeticRefs"`
}

// ProfileStats is the lifetime summary shown on the "opponent found" card.
type ProfileStats struct {
	GamesPlayed int     `json:"gamesPlayed"`
	Wins        int     `json:"wins"`
	Level       int     `json:"level"`
	WinRate     float64 `json:"winRate"`
}

// Paired reports whether the entry already has both participants.
func (e *WaitingRoomEntry) Paired() bool {
	return e.PlayersRequired == 0 && e.OpponentData != nil
}

// Includes reports whether playerID is host or opponent of the entry.
func (e *WaitingRoomEntry) Includes(playerID string) bool {
	return e.HostData.PlayerID == playerID || (e.OpponentData != nil && e.OpponentData.PlayerID == playerID)
}
