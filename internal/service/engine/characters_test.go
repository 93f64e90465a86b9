package engine

import (
	"fmt"
	"testing"

	"fabula/internal/config"
)

func TestApplyCharacterUpdates(t *testing.T) {
	t.Run("nil updates keep the roster", func(t *testing.T) {
		roster := map[string]any{"guard": map[string]any{"name": "Gate Guard"}}
		got := applyCharacterUpdates(roster, nil, false)
		if len(got) != 1 {
			t.Errorf("roster changed: %v", got)
		}
	})

	t.Run("mutable fields update, immutable fields hold", func(t *testing.T) {
		roster := map[string]any{
			"white_rabbit": map[string]any{
				"name":        "The White Rabbit",
				"personality": "anxious",
				"location":    "riverbank",
			},
		}
		applyCharacterUpdates(roster, map[string]any{
			"white_rabbit": map[string]any{
				"name":           "Bunny",
				"personality":    "calm",
				"location":       "rabbit hole",
				"current_status": "late",
			},
		}, false)

		char := roster["white_rabbit"].(map[string]any)
		if char["name"] != "The White Rabbit" || char["personality"] != "anxious" {
			t.Errorf("immutable fields changed: %v", char)
		}
		if char["location"] != "rabbit hole" || char["current_status"] != "late" {
			t.Errorf("mutable fields did not apply: %v", char)
		}
	})

	t.Run("unknown slug creates a character off rails", func(t *testing.T) {
		roster := map[string]any{}
		applyCharacterUpdates(roster, map[string]any{
			"stranger": map[string]any{"name": "Hooded Stranger", "location": "tavern"},
		}, false)
		if _, created := roster["stranger"]; !created {
			t.Error("new character was not created")
		}
	})

	t.Run("on rails drops unknown slugs", func(t *testing.T) {
		roster := map[string]any{}
		applyCharacterUpdates(roster, map[string]any{
			"stranger": map[string]any{"name": "Hooded Stranger"},
		}, true)
		if len(roster) != 0 {
			t.Errorf("on-rails roster grew: %v", roster)
		}
	})

	t.Run("on rails still updates known characters", func(t *testing.T) {
		roster := map[string]any{
			"guard": map[string]any{"name": "Gate Guard", "location": "gate"},
		}
		applyCharacterUpdates(roster, map[string]any{
			"guard": map[string]any{"location": "barracks"},
		}, true)
		if roster["guard"].(map[string]any)["location"] != "barracks" {
			t.Error("known character not updated on rails")
		}
	})

	t.Run("non-object updates are ignored", func(t *testing.T) {
		roster := map[string]any{}
		applyCharacterUpdates(roster, map[string]any{"guard": "not an object"}, false)
		if len(roster) != 0 {
			t.Errorf("roster = %v, want empty", roster)
		}
	})

	t.Run("nil roster allocates", func(t *testing.T) {
		got := applyCharacterUpdates(nil, map[string]any{
			"guard": map[string]any{"name": "Gate Guard"},
		}, false)
		if got == nil || len(got) != 1 {
			t.Errorf("got %v, want one character", got)
		}
	})
}

func TestCharactersForPrompt(t *testing.T) {
	characters := map[string]any{
		"cook": map[string]any{
			"name":           "Grim Cook",
			"personality":    "surly",
			"location":       "Kitchen",
			"current_status": "chopping onions",
		},
		"duchess": map[string]any{
			"name":           "The Duchess",
			"location":       "Croquet Ground",
			"current_status": "furious",
			"allegiance":     "queen",
		},
		"footman": map[string]any{
			"name":     "Fish Footman",
			"location": "Front Door",
		},
		"old_king": map[string]any{
			"name":            "Old King",
			"location":        "Crypt",
			"deceased_reason": "poisoned at the feast",
		},
	}
	playerState := map[string]any{"location": "kitchen"}
	recent := "You asked the Duchess about the trial."

	got := CharactersForPrompt(characters, playerState, recent)
	if len(got) != 4 {
		t.Fatalf("got %d entries, want 4", len(got))
	}

	// Nearby first with the full card, then the mentioned status card,
	// then name-only entries.
	if got[0]["_slug"] != "cook" {
		t.Errorf("first entry = %v, want cook", got[0]["_slug"])
	}
	if got[0]["personality"] != "surly" {
		t.Errorf("nearby card should keep full detail: %v", got[0])
	}
	if got[1]["_slug"] != "duchess" {
		t.Errorf("second entry = %v, want duchess", got[1]["_slug"])
	}
	if _, full := got[1]["personality"]; full {
		t.Error("mentioned card should not carry personality")
	}
	if got[1]["current_status"] != "furious" {
		t.Errorf("mentioned card lost status: %v", got[1])
	}

	rest := map[any]map[string]any{}
	for _, entry := range got[2:] {
		rest[entry["_slug"]] = entry
	}
	if footman := rest["footman"]; footman["location"] != "Front Door" {
		t.Errorf("distant living character should keep location: %v", footman)
	}
	if king := rest["old_king"]; king["deceased_reason"] != "poisoned at the feast" {
		t.Errorf("deceased character should carry the death note: %v", king)
	}
	if _, hasLoc := rest["old_king"]["location"]; hasLoc {
		t.Error("deceased character should not advertise a location")
	}
}

func TestCharactersForPromptCap(t *testing.T) {
	characters := map[string]any{}
	for i := 0; i < config.MaxCharactersInPrompt+5; i++ {
		characters[fmt.Sprintf("npc_%02d", i)] = map[string]any{"name": fmt.Sprintf("NPC %d", i)}
	}
	got := CharactersForPrompt(characters, map[string]any{}, "")
	if len(got) != config.MaxCharactersInPrompt {
		t.Errorf("got %d entries, want %d", len(got), config.MaxCharactersInPrompt)
	}
}

func TestCharactersForPromptEmpty(t *testing.T) {
	if got := CharactersForPrompt(nil, map[string]any{}, ""); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestFitCharactersToBudget(t *testing.T) {
	list := []map[string]any{
		{"name": "Alpha", "detail": "aaaaaaaaaaaaaaaaaaaa"},
		{"name": "Beta", "detail": "bbbbbbbbbbbbbbbbbbbb"},
		{"name": "Gamma", "detail": "cccccccccccccccccccc"},
	}

	fitted := FitCharactersToBudget(list, 100)
	if len(fitted) >= 3 {
		t.Errorf("list did not shrink: %d entries", len(fitted))
	}
	if len(fitted) > 0 && fitted[0]["name"] != "Alpha" {
		t.Errorf("head of list should survive, got %v", fitted[0]["name"])
	}

	wide := FitCharactersToBudget(list, 100000)
	if len(wide) != 3 {
		t.Errorf("list under budget shrank to %d", len(wide))
	}
}
