package engine

import (
	"strings"

	"fabula/internal/config"
)

// appendSummary merges the narrator's summary update into the running
// campaign summary. Lines already present anywhere in the existing text
// are dropped, so a repetitive narrator cannot inflate the summary. The
// result keeps the most recent MaxSummaryChars.
func appendSummary(existing, update string) string {
	update = strings.TrimSpace(update)
	if update == "" {
		return existing
	}
	if existing == "" {
		return tailRunes(update, config.MaxSummaryChars)
	}
	existingLower := strings.ToLower(existing)
	var fresh []string
	for _, line := range strings.Split(update, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(existingLower, strings.ToLower(line)) {
			continue
		}
		fresh = append(fresh, line)
	}
	if len(fresh) == 0 {
		return tailRunes(existing, config.MaxSummaryChars)
	}
	combined := strings.TrimRight(existing, " \t\r\n") + "\n" + strings.Join(fresh, "\n")
	return tailRunes(combined, config.MaxSummaryChars)
}
