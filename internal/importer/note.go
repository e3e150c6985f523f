// Package importer turns note files (Markdown with optional YAML front
// matter) into interactions for the memory engine, either as a one-shot
// directory import or via a watched drop directory.
package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Note is a single parsed note file.
type Note struct {
	// Path is the absolute filesystem path; RelativePath is relative to the
	// import root.
	Path         string
	RelativePath string

	// Title comes from front matter, the first H1 heading, or the filename,
	// in that order of preference.
	Title string

	// Content is the text submitted to the engine: title heading plus the
	// body with wiki links flattened to plain text.
	Content string

	// Tags merges front matter tags and inline #hashtags.
	Tags []string

	// Links are the [[wiki-link]] targets the note references.
	Links []string

	// OccurredAt is taken from the front matter date field; zero when the
	// note carries none (the engine defaults it to ingestion time).
	OccurredAt time.Time

	frontmatter map[string]interface{}
}

// ParseNote parses one note file's content. relativePath feeds the fallback
// title and the provenance metadata.
func ParseNote(content []byte, absolutePath, relativePath string) (*Note, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("front matter in %s: %w", relativePath, err)
	}

	title := extractString(fm, "title", "")
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		title = titleFromPath(relativePath)
	}

	tags := mergeTags(extractTags(fm), extractInlineTags(body))
	links := ExtractWikiLinks(body)

	return &Note{
		Path:         absolutePath,
		RelativePath: relativePath,
		Title:        title,
		Content:      buildContent(title, StripWikiLinks(body)),
		Tags:         tags,
		Links:        links,
		OccurredAt:   extractTimestamp(fm),
		frontmatter:  fm,
	}, nil
}

// Metadata builds the interaction metadata map: provenance plus any front
// matter keys not already lifted into structured fields.
func (n *Note) Metadata() map[string]string {
	meta := map[string]string{
		"title": n.Title,
		"path":  n.RelativePath,
	}
	if len(n.Tags) > 0 {
		meta["tags"] = strings.Join(n.Tags, ",")
	}
	if len(n.Links) > 0 {
		meta["links"] = strings.Join(n.Links, ",")
	}
	for k, v := range n.frontmatter {
		switch k {
		case "tags", "date", "created", "created_at", "updated_at", "title":
			// Already handled.
		default:
			meta["fm_"+k] = fmt.Sprintf("%v", v)
		}
	}
	return meta
}

// splitFrontmatter separates YAML front matter (between --- delimiters) from
// the body. Returns an empty map and the full text when no front matter is
// found.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		// No closing delimiter: treat the entire file as body.
		return map[string]interface{}{}, text, nil
	}

	fmText := strings.Join(lines[1:closeIdx], "\n")
	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return map[string]interface{}{}, text, fmt.Errorf("invalid YAML: %w", err)
	}

	body := strings.Join(lines[closeIdx+1:], "\n")
	return fm, body, nil
}

// titleFromPath derives a human-readable title from the file name.
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// extractH1 returns the text of the first ATX heading (# ...) in the body.
func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// extractTags reads tags from front matter. Handles both list and
// comma-separated string forms.
func extractTags(fm map[string]interface{}) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []interface{}:
		var tags []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	}
	return nil
}

// extractTimestamp reads a date field from front matter, attempting several
// common layouts.
func extractTimestamp(fm map[string]interface{}) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
	}

	for _, key := range []string{"date", "created", "created_at", "updated_at"} {
		raw, ok := fm[key]
		if !ok {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case time.Time:
			return v
		default:
			s = fmt.Sprintf("%v", v)
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// extractString pulls a string value from front matter by key with a default.
func extractString(fm map[string]interface{}, key, defaultVal string) string {
	v, ok := fm[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return defaultVal
}

// mergeTags combines two tag slices, deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, tag := range append(a, b...) {
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			result = append(result, tag)
		}
	}
	return result
}

// buildContent assembles the interaction text. It avoids a duplicate title
// heading when the body already opens with a matching H1.
func buildContent(title, body string) string {
	body = strings.TrimSpace(body)

	var parts []string
	if title != "" && !strings.HasPrefix(body, "# ") {
		parts = append(parts, "# "+title)
	}
	if body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n\n")
}
