package reconcile

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reTimeFormat   = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}$`)
	reDateFormat   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	reISODuration  = regexp.MustCompile(`(?i)^P(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
	isoUnitSeconds = [...]float64{86400, 3600, 60, 1}
)

// SecondsToTime formats a run duration as HH:MM:SS. Fractional seconds are
// truncated. ok is false for negative, non-finite or out of range input.
func SecondsToTime(totalSeconds float64) (string, bool) {
	if math.IsNaN(totalSeconds) || math.IsInf(totalSeconds, 0) || totalSeconds < 0 || totalSeconds >= math.MaxInt64 {
		return "", false
	}
	secs := int64(math.Floor(totalSeconds))
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60), true
}

// ISODurationToTime converts an ISO-8601 duration such as "PT1H2M3.5S" or
// "P1DT2H" to HH:MM:SS. Days fold into hours.
func ISODurationToTime(d string) (string, bool) {
	d = strings.TrimSpace(d)
	m := reISODuration.FindStringSubmatch(d)
	if m == nil || strings.HasSuffix(strings.ToUpper(d), "T") {
		return "", false
	}

	total := 0.0
	seen := false
	for i, unit := range isoUnitSeconds {
		v := m[i+1]
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", false
		}
		total += n * unit
		seen = true
	}
	if !seen {
		return "", false
	}
	return SecondsToTime(total)
}

func ValidateTimeFormat(s string) bool {
	return reTimeFormat.MatchString(s)
}

func ValidateDateFormat(s string) bool {
	return reDateFormat.MatchString(s)
}
