package engine

import (
	"regexp"
	"strings"

	"fabula/internal/config"
)

var roomKeyWhitespace = regexp.MustCompile(`\s+`)

// roomKeyFromState derives the stable scene key for the player's current
// room. The first non-empty of room_id, location, room_title and
// room_summary wins; whitespace is collapsed so cosmetic differences do
// not split a room across keys.
func roomKeyFromState(state map[string]any) string {
	for _, field := range []string{"room_id", "location", "room_title", "room_summary"} {
		key := NormalizeRoomKey(stringValue(state[field]))
		if key == "" {
			continue
		}
		return key
	}
	return "unknown-room"
}

// NormalizeRoomKey canonicalizes a raw room label the way scene grouping
// expects: trimmed, lowercased, inner whitespace collapsed, truncated.
// Returns "" for blank input.
func NormalizeRoomKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	key := strings.ToLower(roomKeyWhitespace.ReplaceAllString(raw, " "))
	return truncateRunes(key, config.RoomKeyMaxChars)
}
