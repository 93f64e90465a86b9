package engine

import (
	"context"
	"regexp"
	"strings"

	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
)

// Hand-off language cues for the inferred transfer fallback. The refusal
// pattern wins: a narration where the target pushes the item back never
// transfers anything.
var (
	giveVerbPattern = regexp.MustCompile(`(?i)\b(?:give|hand|pass|toss|offer|slide)\b`)
	refusalPattern  = regexp.MustCompile(`(?i)\b(?:doesn'?t take|does not take|refuse[sd]?|reject[sd]?|decline[sd]?` +
		`|push(?:es|ed)? (?:it |the \w+ )?(?:back|away)` +
		`|won'?t (?:take|accept)|shake[sd]? (?:his|her|their) head` +
		`|hands? it back|gives? it back|returns? (?:it|the))\b`)
	mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
)

// normalizeGiveItem validates the narrator's hand-off instruction and
// resolves a mention-only target to an actor id. A non-empty issue marks
// the instruction unusable as sent; only a resolved ToActorID transfers.
func normalizeGiveItem(ctx context.Context, raw *ports.GiveItemInstruction, resolver ports.ActorResolverPort) (*ports.GiveItemInstruction, string) {
	if raw == nil {
		return nil, ""
	}
	item := strings.TrimSpace(raw.Item)
	if item == "" {
		return nil, "missing_item"
	}
	var actorID *string
	if raw.ToActorID != nil {
		if trimmed := strings.TrimSpace(*raw.ToActorID); trimmed != "" {
			actorID = &trimmed
		}
	}
	var mention *string
	if raw.ToDiscordMention != nil {
		trimmed := strings.TrimSpace(*raw.ToDiscordMention)
		mention = &trimmed
	}
	if actorID == nil && mention != nil && *mention != "" && resolver != nil {
		if resolved, err := resolver.ResolveDiscordMention(ctx, *mention); err == nil && resolved != "" {
			actorID = &resolved
		}
	}
	instruction := &ports.GiveItemInstruction{
		Item:             item,
		ToActorID:        actorID,
		ToDiscordMention: mention,
	}
	if actorID != nil {
		return instruction, ""
	}
	return instruction, "unresolved_target"
}

// inferGiveItem reconstructs a hand-off the narrator described in prose
// but did not return as give_item. It requires items that actually left
// the giver's inventory this turn, hand-off language without a refusal,
// and a resolvable mention of another player in the narration.
func inferGiveItem(ctx context.Context, resolver ports.ActorResolverPort, actorID, actionText, narrationText string, removed []string) *ports.GiveItemInstruction {
	if len(removed) == 0 {
		return nil
	}
	if !giveVerbPattern.MatchString(actionText) && !giveVerbPattern.MatchString(narrationText) {
		return nil
	}
	if refusalPattern.MatchString(narrationText) {
		return nil
	}
	if resolver == nil {
		return nil
	}
	var target string
	for _, mention := range mentionPattern.FindAllString(narrationText, -1) {
		resolved, err := resolver.ResolveDiscordMention(ctx, mention)
		if err != nil || resolved == "" || resolved == actorID {
			continue
		}
		target = resolved
		break
	}
	if target == "" {
		return nil
	}
	var item string
	if len(removed) == 1 {
		item = removed[0]
	} else {
		actionLower := strings.ToLower(actionText)
		for _, name := range removed {
			if strings.Contains(actionLower, strings.ToLower(name)) {
				item = name
				break
			}
		}
	}
	if item == "" {
		return nil
	}
	return &ports.GiveItemInstruction{Item: item, ToActorID: &target}
}

// removedItems lists pre-turn inventory names no longer held, preserving
// the pre-turn order.
func removedItems(pre, current []models.InventoryItem) []string {
	held := make(map[string]struct{}, len(current))
	for _, entry := range current {
		held[strings.ToLower(entry.Name)] = struct{}{}
	}
	var removed []string
	for _, entry := range pre {
		if _, stillHeld := held[strings.ToLower(entry.Name)]; !stillHeld {
			removed = append(removed, entry.Name)
		}
	}
	return removed
}
