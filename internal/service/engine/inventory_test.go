package engine

import (
	"reflect"
	"strings"
	"testing"

	"fabula/internal/config"
	"fabula/internal/domain/models"
)

func TestNormalizeInventoryNames(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"single string", "brass lantern", []string{"brass lantern"}},
		{"comma-joined string", "lamp, rope , sword", []string{"lamp", "rope", "sword"}},
		{"list of strings", []any{"lamp", "rope"}, []string{"lamp", "rope"}},
		{"list with objects", []any{map[string]any{"name": "lamp"}, "rope"}, []string{"lamp", "rope"}},
		{"duplicates keep first casing", []any{"Lamp", "lamp", "LAMP"}, []string{"Lamp"}},
		{"blank entries dropped", []any{"", "  ", "rope"}, []string{"rope"}},
		{"unsupported type", 42, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeInventoryNames(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeInventoryNames(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInventoryFromState(t *testing.T) {
	state := map[string]any{
		"inventory": []any{
			map[string]any{"name": "lamp", "origin": "Found in the cellar."},
			"rope",
			map[string]any{"name": "Lamp"},
			map[string]any{"weight": 3},
			"",
		},
	}

	got := inventoryFromState(state)
	want := []models.InventoryItem{
		{Name: "lamp", Origin: "Found in the cellar."},
		{Name: "rope"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("inventoryFromState() = %v, want %v", got, want)
	}

	if items := inventoryFromState(nil); items != nil {
		t.Errorf("inventoryFromState(nil) = %v, want nil", items)
	}
}

func TestApplyInventoryDelta(t *testing.T) {
	current := []models.InventoryItem{
		{Name: "lamp", Origin: "old"},
		{Name: "rope", Origin: "old"},
	}

	got := applyInventoryDelta(current, []string{"sword", "Lamp"}, []string{"ROPE"}, "Won in a duel.")
	want := []models.InventoryItem{
		{Name: "lamp", Origin: "old"},
		{Name: "sword", Origin: "Won in a duel."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("applyInventoryDelta() = %v, want %v", got, want)
	}
}

func TestBuildOriginHint(t *testing.T) {
	tests := []struct {
		name      string
		narration string
		action    string
		want      string
	}{
		{
			name:      "first sentence of narration",
			narration: "You pick up the lamp. It flickers weakly.",
			action:    "take lamp",
			want:      "You pick up the lamp.",
		},
		{
			name:      "single sentence passes whole",
			narration: "The sword hums in your grip",
			action:    "",
			want:      "The sword hums in your grip",
		},
		{
			name:      "falls back to the action",
			narration: "",
			action:    "grab the rope",
			want:      "grab the rope",
		},
		{
			name:      "empty everything",
			narration: "  ",
			action:    "",
			want:      "",
		},
		{
			name:      "exclamation ends the sentence",
			narration: "It explodes! Debris rains down.",
			action:    "",
			want:      "It explodes!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildOriginHint(tt.narration, tt.action); got != tt.want {
				t.Errorf("buildOriginHint() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("long hints truncate", func(t *testing.T) {
		got := buildOriginHint(strings.Repeat("w", config.OriginHintMaxChars+40), "")
		if len(got) != config.OriginHintMaxChars {
			t.Errorf("hint length = %d, want %d", len(got), config.OriginHintMaxChars)
		}
	})
}

func TestStripInventoryMentions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops inventory lines",
			in:   "You enter the hall.\nInventory: lamp, rope\nA draft blows through.",
			want: "You enter the hall.\nA draft blows through.",
		},
		{
			name: "prefix match is case-insensitive",
			in:   "YOU ARE CARRYING: a lamp\nThe door creaks.",
			want: "The door creaks.",
		},
		{
			name: "items carried variant",
			in:   "Items carried: sword\nOnward.",
			want: "Onward.",
		},
		{
			name: "plain text untouched",
			in:   "The inventory clerk nods at you.",
			want: "The inventory clerk nods at you.",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripInventoryMentions(tt.in); got != tt.want {
				t.Errorf("StripInventoryMentions() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScrubInventoryFromState(t *testing.T) {
	in := map[string]any{
		"setting":         "forest",
		"inventory":       []any{"lamp"},
		"party_inventory": []any{"rope"},
		"rooms": []any{
			map[string]any{"name": "cellar", "Inventory_cache": []any{"gold"}},
		},
		"nested": map[string]any{"shared_inventory": "stuff", "keep": true},
	}

	got, ok := ScrubInventoryFromState(in).(map[string]any)
	if !ok {
		t.Fatalf("scrub returned %T, want map", got)
	}
	want := map[string]any{
		"setting": "forest",
		"rooms": []any{
			map[string]any{"name": "cellar"},
		},
		"nested": map[string]any{"keep": true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScrubInventoryFromState() = %v, want %v", got, want)
	}

	// Scalars pass through untouched.
	if ScrubInventoryFromState("inventory") != "inventory" {
		t.Error("scalar string should pass through")
	}
}

func TestRemovedItems(t *testing.T) {
	pre := []models.InventoryItem{
		{Name: "Lamp"}, {Name: "Rope"}, {Name: "Sword"},
	}
	current := []models.InventoryItem{
		{Name: "lamp"},
	}

	got := removedItems(pre, current)
	want := []string{"Rope", "Sword"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("removedItems() = %v, want %v", got, want)
	}

	if missing := removedItems(nil, current); missing != nil {
		t.Errorf("removedItems(nil, ...) = %v, want nil", missing)
	}
}
