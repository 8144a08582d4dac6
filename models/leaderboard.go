package models

import (
	"strings"
	"time"
)

type RunType string

const (
	RunTypeSolo RunType = "solo"
	RunTypeCoop RunType = "co-op"
)

func (t RunType) Valid() bool {
	return t == RunTypeSolo || t == RunTypeCoop
}

type LeaderboardType string

const (
	LeaderboardRegular         LeaderboardType = "regular"
	LeaderboardIndividualLevel LeaderboardType = "individual-level"
	LeaderboardCommunityGolds  LeaderboardType = "community-golds"
)

func (t LeaderboardType) Valid() bool {
	switch t {
	case LeaderboardRegular, LeaderboardIndividualLevel, LeaderboardCommunityGolds:
		return true
	}
	return false
}

// UnknownPlayer is the placeholder name written when an external run carries no
// usable player name. It is accepted as a valid second player for co-op runs.
const UnknownPlayer = "Unknown"

// legacyUnclaimedMarker is what older imports wrote into player_id.
const legacyUnclaimedMarker = "imported"

type LeaderboardEntry struct {
	ID                   string          `json:"id"`
	PlayerID             string          `json:"playerId"`
	PlayerName           string          `json:"playerName"`
	Player2Name          string          `json:"player2Name,omitempty"`
	CategoryID           string          `json:"categoryId"`
	PlatformID           string          `json:"platformId"`
	LevelID              string          `json:"levelId,omitempty"`
	RunType              RunType         `json:"runType"`
	LeaderboardType      LeaderboardType `json:"leaderboardType"`
	Time                 string          `json:"time"`
	Date                 string          `json:"date"`
	Verified             bool            `json:"verified"`
	ImportedFromExternal bool            `json:"importedFromExternal"`
	ExternalRunID        string          `json:"externalRunId,omitempty"`
	ExternalCategoryName string          `json:"externalCategoryName,omitempty"`
	ExternalPlatformName string          `json:"externalPlatformName,omitempty"`
	ExternalLevelName    string          `json:"externalLevelName,omitempty"`
	ImportedAt           time.Time       `json:"importedAt"`
}

// IsUnclaimed reports whether playerID is any of the representations used for
// "no linked account": empty, blank, or the legacy "imported" marker.
func IsUnclaimed(playerID string) bool {
	p := strings.TrimSpace(playerID)
	return p == "" || strings.EqualFold(p, legacyUnclaimedMarker)
}

// UnclaimedPlayerID normalizes every unclaimed representation to the empty string.
func UnclaimedPlayerID(playerID string) string {
	if IsUnclaimed(playerID) {
		return ""
	}
	return strings.TrimSpace(playerID)
}

// Unclaimed reports whether the entry was imported and has no account linked.
func (e *LeaderboardEntry) Unclaimed() bool {
	return e.ImportedFromExternal && IsUnclaimed(e.PlayerID)
}
