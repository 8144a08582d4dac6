package models

// ExternalRun is a candidate record fetched from the external leaderboard
// service. It is already typed at the ingestion boundary; optional fields are
// empty strings or nil pointers.
type ExternalRun struct {
	ID           string   `json:"id" validate:"required"`
	PlayerNames  []string `json:"playerNames" validate:"max=2"`
	CategoryID   string   `json:"categoryId"`
	CategoryName string   `json:"categoryName,omitempty"`
	// CategoryType is the external board kind, "per-game" or "per-level".
	CategoryType string `json:"categoryType,omitempty"`
	PlatformID   string `json:"platformId,omitempty"`
	PlatformName string `json:"platformName,omitempty"`
	LevelID      string `json:"levelId,omitempty"`
	LevelName    string `json:"levelName,omitempty"`
	// Time is a preformatted HH:MM:SS value when the source provides one.
	Time           string   `json:"time,omitempty"`
	PrimarySeconds *float64 `json:"primarySeconds,omitempty"`
	PrimaryISO     string   `json:"primaryIso,omitempty"`
	Date           string   `json:"date,omitempty"`
	Submitted      string   `json:"submitted,omitempty"`
}

type ExternalCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type ExternalLevel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const (
	ExternalCategoryPerGame  = "per-game"
	ExternalCategoryPerLevel = "per-level"
)

// LeaderboardTypeFor maps an external category kind onto the internal board type.
func LeaderboardTypeFor(externalType string) LeaderboardType {
	if externalType == ExternalCategoryPerLevel {
		return LeaderboardIndividualLevel
	}
	return LeaderboardRegular
}
