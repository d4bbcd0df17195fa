package submission

import "strings"

// TagSeparator joins tags at the storage boundary.
const TagSeparator = ","

// NormalizeTags splits raw user input on commas, trims whitespace around
// each tag and drops empty entries. Order is preserved.
func NormalizeTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, TagSeparator) {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// JoinTags serializes tags for storage.
func JoinTags(tags []string) string {
	return strings.Join(tags, TagSeparator)
}
