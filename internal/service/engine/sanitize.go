package engine

import (
	"strings"

	"fabula/internal/config"
	"fabula/internal/domain/models"
)

// sanitizePlayerStateUpdate guards the player-state patch the narrator
// returned. The model never edits the inventory list directly: explicit
// inventory_add / inventory_remove changes are extracted, a full
// "inventory" key is diffed against what the player actually holds, and
// the result is replayed as a capped delta over the stored inventory.
// A location change also clears stale room fields the model did not
// re-describe.
func sanitizePlayerStateUpdate(previousState, update map[string]any, actionText, narrationText string) map[string]any {
	if update == nil {
		return map[string]any{}
	}
	cleaned := make(map[string]any, len(update))
	for k, v := range update {
		cleaned[k] = v
	}
	previousInventory := inventoryFromState(previousState)

	adds := normalizeInventoryNames(cleaned[models.PlayerStateKeyInventory+"_add"])
	removes := normalizeInventoryNames(cleaned[models.PlayerStateKeyInventory+"_remove"])
	delete(cleaned, models.PlayerStateKeyInventory+"_add")
	delete(cleaned, models.PlayerStateKeyInventory+"_remove")

	if rawInventory, present := cleaned[models.PlayerStateKeyInventory]; present {
		delete(cleaned, models.PlayerStateKeyInventory)
		modelInventory := normalizeInventoryNames(rawInventory)
		modelSet := toLowerSet(modelInventory)
		currentSet := make(map[string]struct{}, len(previousInventory))
		removeSet := toLowerSet(removes)
		addSet := toLowerSet(adds)
		for _, entry := range previousInventory {
			currentSet[strings.ToLower(entry.Name)] = struct{}{}
		}
		for _, entry := range previousInventory {
			key := strings.ToLower(entry.Name)
			if _, held := modelSet[key]; held {
				continue
			}
			if _, queued := removeSet[key]; queued {
				continue
			}
			removes = append(removes, entry.Name)
			removeSet[key] = struct{}{}
		}
		for _, name := range modelInventory {
			key := strings.ToLower(name)
			if _, held := currentSet[key]; held {
				continue
			}
			if _, queued := addSet[key]; queued {
				continue
			}
			adds = append(adds, name)
			addSet[key] = struct{}{}
		}
	}

	heldNow := make(map[string]struct{}, len(previousInventory))
	for _, entry := range previousInventory {
		heldNow[strings.ToLower(entry.Name)] = struct{}{}
	}
	filteredRemoves := removes[:0]
	for _, name := range removes {
		if _, held := heldNow[strings.ToLower(name)]; held {
			filteredRemoves = append(filteredRemoves, name)
		}
	}
	removes = filteredRemoves

	if len(adds) > config.MaxInventoryChangesPerTurn {
		adds = adds[:config.MaxInventoryChangesPerTurn]
	}
	if len(removes) > config.MaxInventoryChangesPerTurn {
		removes = removes[:config.MaxInventoryChangesPerTurn]
	}

	hint := buildOriginHint(narrationText, actionText)
	if len(adds) > 0 || len(removes) > 0 {
		cleaned[models.PlayerStateKeyInventory] = inventoryToState(applyInventoryDelta(previousInventory, adds, removes, hint))
	} else {
		cleaned[models.PlayerStateKeyInventory] = inventoryToState(previousInventory)
	}

	for key := range cleaned {
		if key != models.PlayerStateKeyInventory && strings.Contains(strings.ToLower(key), "inventory") {
			delete(cleaned, key)
		}
	}

	if newLocation, ok := cleaned[models.PlayerStateKeyLocation]; ok && newLocation != nil {
		oldLocation := stringValue(previousState[models.PlayerStateKeyLocation])
		if !strings.EqualFold(strings.TrimSpace(stringValue(newLocation)), strings.TrimSpace(oldLocation)) {
			if _, present := cleaned["room_description"]; !present {
				cleaned["room_description"] = nil
			}
			if _, present := cleaned["room_title"]; !present {
				cleaned["room_title"] = nil
			}
		}
	}
	return cleaned
}
