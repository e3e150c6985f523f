package importer

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[link]] and [[link|alias]] patterns.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// inlineTagRe finds #hashtag patterns in body text.
var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// ExtractWikiLinks returns the [[wiki-link]] targets in content, deduplicated
// case-insensitively and ordered by first appearance. The link targets end up
// in interaction metadata, where the extractor can pick them up as mentions.
func ExtractWikiLinks(content string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(content, -1)

	seen := make(map[string]bool)
	var targets []string
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		key := strings.ToLower(target)
		if target == "" || seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, target)
	}
	return targets
}

// StripWikiLinks replaces [[wiki-links]] in content with plain text: the
// alias when present, the target name otherwise.
func StripWikiLinks(content string) string {
	return wikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := wikilinkRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
			return strings.TrimSpace(parts[2])
		}
		return strings.TrimSpace(parts[1])
	})
}

// extractInlineTags finds #hashtag patterns, deduplicated case-insensitively.
func extractInlineTags(body string) []string {
	matches := inlineTagRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	var tags []string
	for _, m := range matches {
		tag := strings.TrimSpace(m[1])
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			tags = append(tags, tag)
		}
	}
	return tags
}
