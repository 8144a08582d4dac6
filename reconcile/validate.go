package reconcile

import (
	"fmt"
	"strings"

	"speedrun-backend/models"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

type Issue struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

type Issues []Issue

func (is Issues) Critical() Issues { return is.filter(SeverityCritical) }

func (is Issues) Warnings() Issues { return is.filter(SeverityWarning) }

func (is Issues) filter(s Severity) Issues {
	var out Issues
	for _, i := range is {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

// Join renders issues as "field: message; field: message".
func (is Issues) Join() string {
	parts := make([]string, len(is))
	for n, i := range is {
		parts[n] = i.String()
	}
	return strings.Join(parts, "; ")
}

func HasCritical(is Issues) bool {
	return len(is.Critical()) > 0
}

// Validate checks a mapped candidate. Critical issues reject the record,
// warnings let it through with placeholders.
func Validate(e *models.LeaderboardEntry) Issues {
	var issues Issues
	critical := func(field, msg string) {
		issues = append(issues, Issue{Severity: SeverityCritical, Field: field, Message: msg})
	}
	warn := func(field, msg string) {
		issues = append(issues, Issue{Severity: SeverityWarning, Field: field, Message: msg})
	}

	if e == nil {
		critical("record", "missing")
		return issues
	}

	if strings.TrimSpace(e.PlayerName) == "" {
		critical("playerName", "is required")
	}

	switch t := strings.TrimSpace(e.Time); {
	case t == "":
		critical("time", "is required")
	case !ValidateTimeFormat(t):
		critical("time", fmt.Sprintf("invalid format %q, want HH:MM:SS", t))
	}

	switch d := strings.TrimSpace(e.Date); {
	case d == "":
		critical("date", "is required")
	case !ValidateDateFormat(d):
		critical("date", fmt.Sprintf("invalid format %q, want YYYY-MM-DD", d))
	}

	if e.RunType == models.RunTypeCoop && strings.TrimSpace(e.Player2Name) == "" {
		critical("player2Name", "is required for co-op runs")
	}

	if e.CategoryID == "" {
		warn("category", fmt.Sprintf("unmapped external category %q", e.ExternalCategoryName))
	}
	if e.PlatformID == "" {
		warn("platform", fmt.Sprintf("unmapped external platform %q", e.ExternalPlatformName))
	}
	if e.LeaderboardType == models.LeaderboardIndividualLevel && e.LevelID == "" {
		warn("level", fmt.Sprintf("unmapped external level %q", e.ExternalLevelName))
	}
	if !e.RunType.Valid() {
		warn("runType", fmt.Sprintf("invalid value %q", e.RunType))
	}
	if !e.LeaderboardType.Valid() {
		warn("leaderboardType", fmt.Sprintf("invalid value %q", e.LeaderboardType))
	}

	return issues
}
