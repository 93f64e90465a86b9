package anthropic

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"fabula/internal/domain/ports"
)

var fencePattern = regexp.MustCompile("```\\w*")

// ExtractJSON pulls the outermost JSON object out of raw model text,
// tolerating code fences and prose around it. Returns "" when no object
// is present.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "```") {
		text = strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// ParseTurnOutput decodes the narrator's structured response. Plain prose
// degrades to a narration-only output instead of failing the turn, and
// field coercion tolerates the usual model drift: floats where ints
// belong, several JSON objects back to back, the legacy flat set_timer_*
// keys instead of timer_instruction.
func ParseTurnOutput(text string) (*ports.LLMTurnOutput, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty narrator response")
	}

	raw := ExtractJSON(trimmed)
	if raw == "" {
		return &ports.LLMTurnOutput{Narration: trimmed}, nil
	}

	doc := parseJSONLenient(raw)
	if doc == nil {
		return &ports.LLMTurnOutput{Narration: trimmed}, nil
	}

	output := &ports.LLMTurnOutput{
		Narration:         stringField(doc, "narration"),
		StateUpdate:       mapField(doc, "state_update"),
		SummaryUpdate:     stringField(doc, "summary_update"),
		XPAwarded:         intField(doc, "xp_awarded"),
		PlayerStateUpdate: mapField(doc, "player_state_update"),
		SceneImagePrompt:  stringField(doc, "scene_image_prompt"),
		CharacterUpdates:  mapField(doc, "character_updates"),
	}
	output.TimerInstruction = timerInstruction(doc)
	output.GiveItem = giveItemInstruction(doc)
	return output, nil
}

// parseJSONLenient decodes one object, or merges several concatenated
// objects left to right. Returns nil when nothing decodes.
func parseJSONLenient(text string) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc
	}

	merged := map[string]any{}
	decoder := json.NewDecoder(strings.NewReader(text))
	for {
		var obj map[string]any
		if err := decoder.Decode(&obj); err != nil {
			break
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func timerInstruction(doc map[string]any) *ports.TimerInstruction {
	if nested := mapField(doc, "timer_instruction"); nested != nil {
		instr := &ports.TimerInstruction{
			DelaySeconds:    intField(nested, "delay_seconds"),
			EventText:       stringField(nested, "event_text"),
			Interruptible:   boolField(nested, "interruptible", true),
			InterruptAction: optStringField(nested, "interrupt_action"),
		}
		if instr.DelaySeconds > 0 && instr.EventText != "" {
			return instr
		}
		return nil
	}

	// Legacy flat keys
	delay := intField(doc, "set_timer_delay")
	event := stringField(doc, "set_timer_event")
	if delay <= 0 || event == "" {
		return nil
	}
	return &ports.TimerInstruction{
		DelaySeconds:    delay,
		EventText:       event,
		Interruptible:   boolField(doc, "set_timer_interruptible", true),
		InterruptAction: optStringField(doc, "set_timer_interrupt_action"),
	}
}

func giveItemInstruction(doc map[string]any) *ports.GiveItemInstruction {
	nested := mapField(doc, "give_item")
	if nested == nil {
		return nil
	}
	return &ports.GiveItemInstruction{
		Item:             stringField(nested, "item"),
		ToActorID:        optStringField(nested, "to_actor_id"),
		ToDiscordMention: optStringField(nested, "to_discord_mention"),
	}
}

func stringField(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return strings.TrimSpace(v)
}

func optStringField(doc map[string]any, key string) *string {
	s := stringField(doc, key)
	if s == "" {
		return nil
	}
	return &s
}

func mapField(doc map[string]any, key string) map[string]any {
	v, _ := doc[key].(map[string]any)
	return v
}

func intField(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func boolField(doc map[string]any, key string, def bool) bool {
	if v, ok := doc[key].(bool); ok {
		return v
	}
	return def
}
