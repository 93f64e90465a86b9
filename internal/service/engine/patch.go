package engine

// ApplyPatch shallow-merges patch into base and returns the merged
// document. A nil value deletes its key; any other value replaces it
// whole, so nested objects are swapped, never merged.
func ApplyPatch(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}
