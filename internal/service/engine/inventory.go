package engine

import (
	"regexp"
	"strings"

	"fabula/internal/config"
	"fabula/internal/domain/models"
)

var sentenceEndPattern = regexp.MustCompile(`[.!?]\s`)

// Narration lines starting with these announce inventory contents; they
// are stripped before text reaches the prompt so the narrator never
// echoes a stale item list back into play.
var inventoryLinePrefixes = []string{
	"inventory:",
	"inventory -",
	"items:",
	"items carried:",
	"you are carrying:",
	"you carry:",
	"your inventory:",
	"current inventory:",
}

// normalizeInventoryNames flattens an inventory change list (string,
// comma-joined string, or mixed list) into deduplicated display names.
// The first casing seen wins.
func normalizeInventoryNames(value any) []string {
	if value == nil {
		return nil
	}
	var parts []string
	switch v := value.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			parts = append(parts, strings.TrimSpace(part))
		}
	case []any:
		for _, item := range v {
			parts = append(parts, itemToText(item))
		}
	default:
		return nil
	}
	var cleaned []string
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key := strings.ToLower(part)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, part)
	}
	return cleaned
}

// inventoryFromState reads state.inventory into typed items, dropping
// nameless entries and case-insensitive duplicates.
func inventoryFromState(state map[string]any) []models.InventoryItem {
	raw := listField(state, models.PlayerStateKeyInventory)
	var items []models.InventoryItem
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		name := itemToText(entry)
		if name == "" {
			continue
		}
		origin := ""
		if m, ok := entry.(map[string]any); ok {
			origin = strings.TrimSpace(stringValue(m["origin"]))
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, models.InventoryItem{Name: name, Origin: origin})
	}
	return items
}

// inventoryToState renders items back into the JSON shape stored under
// state.inventory.
func inventoryToState(items []models.InventoryItem) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = map[string]any{
			"name":   item.Name,
			"origin": item.Origin,
		}
	}
	return out
}

// applyInventoryDelta removes then adds by case-insensitive name. Adds
// already held are skipped; new items carry originHint.
func applyInventoryDelta(current []models.InventoryItem, adds, removes []string, originHint string) []models.InventoryItem {
	removeSet := toLowerSet(removes)
	out := make([]models.InventoryItem, 0, len(current)+len(adds))
	held := make(map[string]struct{}, len(current))
	for _, entry := range current {
		key := strings.ToLower(entry.Name)
		if _, drop := removeSet[key]; drop {
			continue
		}
		out = append(out, entry)
		held[key] = struct{}{}
	}
	for _, name := range adds {
		key := strings.ToLower(name)
		if _, dup := held[key]; dup {
			continue
		}
		out = append(out, models.InventoryItem{Name: name, Origin: originHint})
		held[key] = struct{}{}
	}
	return out
}

// buildOriginHint takes the first sentence of the narration (or the
// action when there is none) as the provenance note for items gained
// this turn.
func buildOriginHint(narration, action string) string {
	source := narration
	if source == "" {
		source = action
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return ""
	}
	first := source
	if loc := sentenceEndPattern.FindStringIndex(source); loc != nil {
		first = source[:loc[0]+1]
	}
	return truncateRunes(first, config.OriginHintMaxChars)
}

// StripInventoryMentions drops narration lines that announce inventory
// contents. Prompt builders apply it to summaries and recent player
// turns so item lists never feed back through the model.
func StripInventoryMentions(text string) string {
	if text == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.ToLower(strings.TrimSpace(line))
		skip := false
		for _, prefix := range inventoryLinePrefixes {
			if strings.HasPrefix(stripped, prefix) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ScrubInventoryFromState deep-copies a state document with every key
// containing "inventory" removed, recursively. Campaign state shown to
// the narrator goes through this; inventories live on players only.
func ScrubInventoryFromState(value any) any {
	switch v := value.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, item := range v {
			if strings.Contains(strings.ToLower(key), "inventory") {
				continue
			}
			cleaned[key] = ScrubInventoryFromState(item)
		}
		return cleaned
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ScrubInventoryFromState(item)
		}
		return out
	default:
		return value
	}
}
