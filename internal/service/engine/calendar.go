package engine

import (
	"fmt"
	"sort"
	"strings"

	"fabula/internal/config"
	"fabula/internal/domain/models"
)

// currentGameTime reads the campaign clock, defaulting to day 1, hour 8,
// with the hour clamped to a valid value.
func currentGameTime(campaignState map[string]any) (int, int) {
	gt := mapField(campaignState, models.StateKeyGameTime)
	day, ok := toInt(gt["day"])
	if !ok || day < 1 {
		day = 1
	}
	hour, ok := toInt(gt["hour"])
	if !ok {
		hour = 8
	}
	if hour < 0 {
		hour = 0
	} else if hour > 23 {
		hour = 23
	}
	return day, hour
}

// calendarResolveFireDay converts a relative deadline (time_remaining in
// days or hours) into the absolute game day it fires on, never earlier
// than day 1.
func calendarResolveFireDay(currentDay, currentHour int, timeRemaining, timeUnit any) int {
	remaining, ok := toInt(timeRemaining)
	if !ok {
		remaining = 1
	}
	unit := strings.ToLower(strings.TrimSpace(stringValue(timeUnit)))
	if unit == "" {
		unit = "days"
	}
	var fireDay int
	if strings.HasPrefix(unit, "hour") {
		fireDay = currentDay + floorDiv(currentHour+remaining, 24)
	} else {
		fireDay = currentDay + remaining
	}
	if fireDay < 1 {
		return 1
	}
	return fireDay
}

// normalizeCalendarEvent validates one calendar entry, resolving relative
// deadlines to an absolute fire day. Entries without a name are dropped.
func normalizeCalendarEvent(event any, currentDay, currentHour int) map[string]any {
	m, ok := event.(map[string]any)
	if !ok {
		return nil
	}
	name := strings.TrimSpace(stringValue(m["name"]))
	if name == "" {
		return nil
	}
	fireDay, ok := toInt(m["fire_day"])
	if ok {
		if fireDay < 1 {
			fireDay = 1
		}
	} else {
		fireDay = calendarResolveFireDay(currentDay, currentHour, m["time_remaining"], m["time_unit"])
	}
	normalized := map[string]any{
		"name":        name,
		"fire_day":    fireDay,
		"description": truncateRunes(stringValue(m["description"]), config.MaxCalendarDescriptionChars),
	}
	for _, key := range []string{"created_day", "created_hour"} {
		if v, ok := toInt(m[key]); ok {
			normalized[key] = v
		}
	}
	return normalized
}

// applyCalendarUpdate rebuilds state.calendar from the narrator's
// add/remove instruction. Existing entries are re-normalized, removes
// match names case-insensitively, adds are stamped with the current game
// time, and when an add list was sent duplicate names keep only the
// latest entry. The list keeps its last MaxCalendarEvents entries.
func applyCalendarUpdate(campaignState, calendarUpdate map[string]any) map[string]any {
	if calendarUpdate == nil {
		return campaignState
	}
	currentDay, currentHour := currentGameTime(campaignState)

	var calendar []map[string]any
	for _, raw := range listField(campaignState, models.StateKeyCalendar) {
		if normalized := normalizeCalendarEvent(raw, currentDay, currentHour); normalized != nil {
			calendar = append(calendar, normalized)
		}
	}

	if rawRemove, ok := calendarUpdate["remove"].([]any); ok {
		removeSet := make(map[string]struct{}, len(rawRemove))
		for _, name := range rawRemove {
			if text := strings.ToLower(strings.TrimSpace(stringValue(name))); text != "" {
				removeSet[text] = struct{}{}
			}
		}
		kept := calendar[:0]
		for _, event := range calendar {
			name := strings.ToLower(strings.TrimSpace(stringValue(event["name"])))
			if _, drop := removeSet[name]; !drop {
				kept = append(kept, event)
			}
		}
		calendar = kept
	}

	rawAdd, hasAdd := calendarUpdate["add"].([]any)
	if hasAdd {
		for _, entry := range rawAdd {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			name := strings.TrimSpace(stringValue(m["name"]))
			if name == "" {
				continue
			}
			fireDay, ok := toInt(m["fire_day"])
			if ok {
				if fireDay < 1 {
					fireDay = 1
				}
			} else {
				fireDay = calendarResolveFireDay(currentDay, currentHour, m["time_remaining"], m["time_unit"])
			}
			calendar = append(calendar, map[string]any{
				"name":         name,
				"fire_day":     fireDay,
				"created_day":  currentDay,
				"created_hour": currentHour,
				"description":  truncateRunes(stringValue(m["description"]), config.MaxCalendarDescriptionChars),
			})
		}

		// Latest entry wins when names collide.
		seen := make(map[string]struct{}, len(calendar))
		deduped := make([]map[string]any, 0, len(calendar))
		for i := len(calendar) - 1; i >= 0; i-- {
			key := strings.ToLower(strings.TrimSpace(stringValue(calendar[i]["name"])))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			deduped = append(deduped, calendar[i])
		}
		for i, j := 0, len(deduped)-1; i < j; i, j = i+1, j-1 {
			deduped[i], deduped[j] = deduped[j], deduped[i]
		}
		calendar = deduped
	}

	if len(calendar) > config.MaxCalendarEvents {
		calendar = calendar[len(calendar)-config.MaxCalendarEvents:]
	}

	out := make([]any, len(calendar))
	for i, event := range calendar {
		out[i] = event
	}
	campaignState[models.StateKeyCalendar] = out
	return campaignState
}

// CalendarForPrompt returns the calendar annotated with days_remaining
// and a status label, sorted by fire day then name. Prompt builders use
// it to show the narrator what is due.
func CalendarForPrompt(campaignState map[string]any) []map[string]any {
	currentDay, currentHour := currentGameTime(campaignState)
	var entries []map[string]any
	for _, raw := range listField(campaignState, models.StateKeyCalendar) {
		normalized := normalizeCalendarEvent(raw, currentDay, currentHour)
		if normalized == nil {
			continue
		}
		fireDay, _ := toInt(normalized["fire_day"])
		daysRemaining := fireDay - currentDay
		status := "upcoming"
		switch {
		case daysRemaining < 0:
			status = "overdue"
		case daysRemaining == 0:
			status = "today"
		case daysRemaining == 1:
			status = "imminent"
		}
		normalized["days_remaining"] = daysRemaining
		normalized["status"] = status
		entries = append(entries, normalized)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		fi, _ := toInt(entries[i]["fire_day"])
		fj, _ := toInt(entries[j]["fire_day"])
		if fi != fj {
			return fi < fj
		}
		return strings.ToLower(stringValue(entries[i]["name"])) < strings.ToLower(stringValue(entries[j]["name"]))
	})
	return entries
}

// CalendarReminderText renders the urgent slice of the calendar (due
// within a day, or overdue) for the narrator prompt.
func CalendarReminderText(entries []map[string]any) string {
	var alerts []string
	for _, event := range entries {
		days, _ := toInt(event["days_remaining"])
		if days > 1 {
			continue
		}
		name := stringValue(event["name"])
		fireDay, _ := toInt(event["fire_day"])
		switch {
		case days < 0:
			alerts = append(alerts, fmt.Sprintf("- OVERDUE: %s (was Day %d; %d day(s) overdue)", name, fireDay, -days))
		case days == 0:
			alerts = append(alerts, fmt.Sprintf("- TODAY: %s (fires on Day %d)", name, fireDay))
		default:
			alerts = append(alerts, fmt.Sprintf("- TOMORROW: %s (fires on Day %d)", name, fireDay))
		}
	}
	if len(alerts) == 0 {
		return "None"
	}
	return strings.Join(alerts, "\n")
}
