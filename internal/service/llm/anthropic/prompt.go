package anthropic

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"fabula/internal/config"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/service/engine"
)

// systemPrompt is the narrator contract. The structured keys mirror
// ports.LLMTurnOutput exactly; everything the model wants to change goes
// through them, narration is the only free text.
const systemPrompt = `You are the narrator of a collaborative text adventure. Multiple real players share one persistent world; you resolve exactly one player action per request.

Return ONLY valid JSON with these keys:
- narration: string (what the player sees; under 1800 characters)
- state_update: object (world state changes; set a key to null to delete it)
- summary_update: string (one or two sentences appended to the rolling campaign summary; empty if nothing notable)
- xp_awarded: integer (0-25; 0 for trivial actions)
- player_state_update: object (changes to the acting player only; track location and exits here, not in narration; use inventory_add / inventory_remove arrays of item names for inventory changes)
- scene_image_prompt: string (optional; only when the visible scene changed and a fresh image is worth rendering; name the location and visible characters, one dense paragraph)
- character_updates: object (optional; keyed by character slug, see roster rules)
- give_item: object (optional; {"item": string, "to_actor_id": string or "to_discord_mention": string}; only when the player explicitly hands an item to another player in the same room; one item per turn)
- timer_instruction: object (optional; see timed events)

Rules:
- Return ONLY the JSON object. No markdown, no code fences, no text before or after it.
- WORLD_STATE has a size budget: actively prune stale keys every turn by setting them to null.
- NEVER list or summarise what the player is carrying in narration; inventory display is appended by the system.
- Never permit teleportation, retcons, instant mastery, or powers not present in WORLD_STATE.
- Other PARTY members are real humans; never decide their actions, only react to what RECENT_TURNS shows they did.
- Narrate only the acting player identified by PLAYER_ACTION.`

// rosterPrompt governs character_updates against the WORLD_CHARACTERS map.
const rosterPrompt = `

CHARACTER ROSTER:
WORLD_CHARACTERS is the current NPC roster, keyed by slug. In character_updates use the same slugs; fields merge into the existing entry (appearance, status, location, notes). Set a slug to null to retire a character. New slugs create new characters.`

// onRailsPrompt replaces roster freedom when the campaign is on rails.
const onRailsPrompt = `
This campaign is ON RAILS: you CANNOT create new characters. Unknown slugs in character_updates will be rejected; stick to the roster as given.`

// timerPrompt is only appended when timed events are enabled.
const timerPrompt = `

TIMED EVENTS:
You can schedule a real countdown that fires automatically if the player does not act. Include timer_instruction: {"delay_seconds": 30-300, "event_text": "what happens on expiry", "interruptible": true/false, "interrupt_action": string or null}.
Use timers to force a decision or drag the player where they need to be: an impatient NPC, a collapsing room, an arriving patrol. The event must change game state, never trivial flavor. ~60s urgent, ~120s moderate, ~180-300s slow tension. interruptible=false only for unavoidable events. interrupt_action, when set, is fed back to you as context if the player acts in time. Hint at urgency in narration but NEVER include countdowns or explicit seconds; the system renders its own countdown. Do not schedule on consecutive turns.`

// calendarPrompt explains game time and the calendar entries.
const calendarPrompt = `

CALENDAR & GAME TIME:
CURRENT_GAME_TIME tracks in-game time ({"day": N, "time_of_day": "..."}). Advance it through state_update.game_time when the fiction moves. To schedule future story beats, write state_update.calendar as a list of {"fire_day": N, "description": "..."} entries; CALENDAR_REMINDERS lists imminent or overdue ones. Resolve or prune entries once their day passes.`

// BuildTurnPrompt renders a turn context into the system and user prompt
// pair for one narrator call.
func BuildTurnPrompt(turnCtx *ports.TurnContext) (string, string) {
	state := turnCtx.CampaignState

	system := systemPrompt + rosterPrompt
	if onRails(state) {
		system += onRailsPrompt
	}
	if timedEventsEnabled(state) {
		system += timerPrompt
	}
	system += calendarPrompt

	calendarEntries := engine.CalendarForPrompt(state)
	if calendarEntries == nil {
		calendarEntries = []map[string]any{}
	}
	recentText := recentTurnsText(turnCtx.RecentTurns)
	characters := engine.FitCharactersToBudget(
		engine.CharactersForPrompt(turnCtx.CampaignCharacters, turnCtx.PlayerState, recentText),
		config.MaxCharactersChars,
	)
	if characters == nil {
		characters = []map[string]any{}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "PLAYER_ID: %s\n", turnCtx.ActorID)
	fmt.Fprintf(&sb, "WORLD_SUMMARY: %s\n", clip(turnCtx.CampaignSummary, config.MaxSummaryChars))
	fmt.Fprintf(&sb, "WORLD_STATE: %s\n", clip(dumpJSON(worldStateForPrompt(state)), config.MaxStateChars))
	fmt.Fprintf(&sb, "CURRENT_GAME_TIME: %s\n", dumpJSON(state[models.StateKeyGameTime]))
	fmt.Fprintf(&sb, "CALENDAR: %s\n", dumpJSON(calendarEntries))
	fmt.Fprintf(&sb, "CALENDAR_REMINDERS:\n%s\n", engine.CalendarReminderText(calendarEntries))
	fmt.Fprintf(&sb, "WORLD_CHARACTERS: %s\n", dumpJSON(characters))
	fmt.Fprintf(&sb, "PLAYER_CARD: %s\n", dumpJSON(playerCard(turnCtx)))
	fmt.Fprintf(&sb, "RECENT_TURNS:\n%s\n", recentText)
	fmt.Fprintf(&sb, "%s: %s\n", actionLabel(turnCtx.PlayerState), turnCtx.Action)

	return system, sb.String()
}

// errorPhrases are narrator fallbacks that carry no story; they are kept
// out of the context window so the model does not imitate them.
var errorPhrases = map[string]struct{}{
	"a hollow silence answers":                     {},
	"the world shifts, but nothing clear emerges.": {},
}

// recentTurnsText renders the rolling window. OOC player messages, failed
// narrator turns, countdown lines and inventory footers are dropped; each
// surviving turn is clipped to its budget.
func recentTurnsText(turns []ports.RecentTurn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch turn.Kind {
		case models.TurnKindPlayer:
			if isOOC(content) {
				continue
			}
			clipped := engine.StripInventoryMentions(clip(content, config.MaxTurnChars))
			lines = append(lines, "PLAYER: "+clipped)
		case models.TurnKindNarrator, models.TurnKindSystem:
			if _, bad := errorPhrases[strings.ToLower(content)]; bad {
				continue
			}
			kept := make([]string, 0, 8)
			for _, line := range strings.Split(content, "\n") {
				stripped := strings.TrimSpace(line)
				if strings.HasPrefix(stripped, "⏰") {
					continue
				}
				if strings.HasPrefix(strings.ToLower(stripped), "inventory:") {
					continue
				}
				kept = append(kept, line)
			}
			clipped := strings.TrimSpace(strings.Join(kept, "\n"))
			if clipped == "" {
				continue
			}
			lines = append(lines, "NARRATOR: "+clip(clipped, config.MaxTurnChars))
		}
	}
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

// worldStateForPrompt drops operator knobs and sections the prompt renders
// separately, and scrubs inventory echoes out of whatever remains.
func worldStateForPrompt(state map[string]any) map[string]any {
	excluded := map[string]struct{}{
		models.StateKeyCalendar:        {},
		models.StateKeyGameTime:        {},
		models.StateKeyDefaultPersona:  {},
		models.StateKeySpeedMultiplier: {},
		models.StateKeyOnRails:         {},
		models.StateKeyTimedEvents:     {},
		"last_narration":               {},
	}
	out := make(map[string]any, len(state))
	for key, value := range state {
		if _, skip := excluded[key]; skip {
			continue
		}
		out[key] = engine.ScrubInventoryFromState(value)
	}
	return out
}

// playerCard is the acting player's view: progression plus state minus
// the slices the system owns (inventory, stats, room prose).
func playerCard(turnCtx *ports.TurnContext) map[string]any {
	card := map[string]any{
		"actor_id": turnCtx.ActorID,
		"level":    turnCtx.PlayerLevel,
		"xp":       turnCtx.PlayerXP,
	}
	excluded := map[string]struct{}{
		models.PlayerStateKeyInventory: {},
		models.PlayerStateKeyStats:     {},
		"room_description":             {},
	}
	for key, value := range turnCtx.PlayerState {
		if _, skip := excluded[key]; skip {
			continue
		}
		card[key] = value
	}
	return card
}

func actionLabel(playerState map[string]any) string {
	name, _ := playerState["character_name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return "PLAYER_ACTION"
	}
	return fmt.Sprintf("PLAYER_ACTION (%s)", strings.ToUpper(name))
}

var oocPattern = regexp.MustCompile(`(?i)^\s*\[OOC\b`)

func isOOC(content string) bool {
	return oocPattern.MatchString(content)
}

func dumpJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// clip caps s at max code points, keeping the head.
func clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func onRails(state map[string]any) bool {
	v, _ := state[models.StateKeyOnRails].(bool)
	return v
}

func timedEventsEnabled(state map[string]any) bool {
	if v, ok := state[models.StateKeyTimedEvents].(bool); ok {
		return v
	}
	return true
}
