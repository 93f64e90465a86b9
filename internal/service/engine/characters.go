package engine

import (
	"encoding/json"
	"sort"
	"strings"

	"fabula/internal/config"
	"fabula/internal/domain/models"
)

// immutableCharacterFields cannot be changed once a character exists;
// the narrator may only evolve mutable facts (location, status,
// allegiance, whatever else it invents).
var immutableCharacterFields = map[string]struct{}{
	"name":        {},
	"personality": {},
	"background":  {},
	"appearance":  {},
}

// applyCharacterUpdates merges the narrator's character_updates into the
// campaign roster. Existing characters take every non-immutable field;
// unknown slugs create a new character unless the campaign is on rails.
// Updates whose value is not an object are ignored.
func applyCharacterUpdates(characters, updates map[string]any, onRails bool) map[string]any {
	if updates == nil {
		return characters
	}
	if characters == nil {
		characters = make(map[string]any, len(updates))
	}
	for rawSlug, rawFields := range updates {
		fields, ok := rawFields.(map[string]any)
		if !ok {
			continue
		}
		slug := strings.TrimSpace(rawSlug)
		if slug == "" {
			continue
		}
		if existing, present := characters[slug]; present {
			char, ok := existing.(map[string]any)
			if !ok {
				continue
			}
			for key, value := range fields {
				if _, immutable := immutableCharacterFields[key]; !immutable {
					char[key] = value
				}
			}
			continue
		}
		if onRails {
			continue
		}
		copied := make(map[string]any, len(fields))
		for key, value := range fields {
			copied[key] = value
		}
		characters[slug] = copied
	}
	return characters
}

// CharactersForPrompt selects and shapes the roster for the narrator
// prompt. Living characters sharing the player's location come through
// in full; characters mentioned in recent turns keep a status card;
// everyone else collapses to a name (plus location, or the death note).
// The combined list is capped at MaxCharactersInPrompt.
func CharactersForPrompt(characters, playerState map[string]any, recentText string) []map[string]any {
	if len(characters) == 0 {
		return nil
	}
	playerLocation := strings.ToLower(strings.TrimSpace(stringValue(playerState[models.PlayerStateKeyLocation])))
	recentLower := strings.ToLower(recentText)

	slugs := make([]string, 0, len(characters))
	for slug := range characters {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	var nearby, mentioned, distant []map[string]any
	for _, slug := range slugs {
		char, ok := characters[slug].(map[string]any)
		if !ok {
			continue
		}
		charLocation := strings.ToLower(strings.TrimSpace(stringValue(char["location"])))
		displayName := stringValue(char["name"])
		if displayName == "" {
			displayName = slug
		}
		charName := strings.ToLower(strings.TrimSpace(displayName))
		deceasedReason := char["deceased_reason"]
		isDeceased := stringValue(deceasedReason) != ""

		nameValue, hasName := char["name"]
		if !hasName {
			nameValue = slug
		}

		switch {
		case !isDeceased && playerLocation != "" && charLocation == playerLocation:
			entry := make(map[string]any, len(char)+1)
			for key, value := range char {
				entry[key] = value
			}
			entry["_slug"] = slug
			nearby = append(nearby, entry)
		case strings.Contains(recentLower, charName) || strings.Contains(recentLower, slug):
			entry := map[string]any{
				"_slug":          slug,
				"name":           nameValue,
				"location":       char["location"],
				"current_status": char["current_status"],
				"allegiance":     char["allegiance"],
			}
			if isDeceased {
				entry["deceased_reason"] = deceasedReason
			}
			mentioned = append(mentioned, entry)
		default:
			entry := map[string]any{"_slug": slug, "name": nameValue}
			if isDeceased {
				entry["deceased_reason"] = deceasedReason
			} else {
				entry["location"] = char["location"]
			}
			distant = append(distant, entry)
		}
	}

	result := make([]map[string]any, 0, len(nearby)+len(mentioned)+len(distant))
	result = append(result, nearby...)
	result = append(result, mentioned...)
	result = append(result, distant...)
	if len(result) > config.MaxCharactersInPrompt {
		result = result[:config.MaxCharactersInPrompt]
	}
	return result
}

// FitCharactersToBudget drops trailing entries until the JSON encoding
// fits maxChars. Nearby characters sort first, so detail is shed from
// the least relevant end.
func FitCharactersToBudget(list []map[string]any, maxChars int) []map[string]any {
	for len(list) > 0 {
		encoded, err := json.Marshal(list)
		if err == nil && len(encoded) <= maxChars {
			break
		}
		list = list[:len(list)-1]
	}
	return list
}
