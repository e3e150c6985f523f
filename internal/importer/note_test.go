package importer

import (
	"strings"
	"testing"
	"time"
)

func TestParseNoteFrontMatter(t *testing.T) {
	content := []byte(`---
title: Apollo Kickoff
tags: [project, launch]
date: 2026-03-01
owner: alice
---

Alice and Bob agreed to start [[Apollo]] next week. #planning
`)
	note, err := ParseNote(content, "/vault/apollo-kickoff.md", "apollo-kickoff.md")
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}

	if note.Title != "Apollo Kickoff" {
		t.Errorf("title = %q, want %q", note.Title, "Apollo Kickoff")
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !note.OccurredAt.Equal(want) {
		t.Errorf("occurredAt = %v, want %v", note.OccurredAt, want)
	}
	if len(note.Tags) != 3 {
		t.Fatalf("tags = %v, want front matter tags plus inline #planning", note.Tags)
	}
	if note.Tags[2] != "planning" {
		t.Errorf("inline tag = %q, want planning", note.Tags[2])
	}
	if len(note.Links) != 1 || note.Links[0] != "Apollo" {
		t.Errorf("links = %v, want [Apollo]", note.Links)
	}

	meta := note.Metadata()
	if meta["title"] != "Apollo Kickoff" {
		t.Errorf("metadata title = %q", meta["title"])
	}
	if meta["fm_owner"] != "alice" {
		t.Errorf("unhandled front matter keys should survive as fm_ entries, got %q", meta["fm_owner"])
	}
	if meta["links"] != "Apollo" {
		t.Errorf("metadata links = %q", meta["links"])
	}
}

func TestParseNoteWithoutFrontMatter(t *testing.T) {
	content := []byte("# Weekly Sync\n\nNotes about the [[Platform Team|platform]] migration.\n")
	note, err := ParseNote(content, "/vault/sync.md", "sync.md")
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}

	if note.Title != "Weekly Sync" {
		t.Errorf("title = %q, want H1 heading", note.Title)
	}
	if !note.OccurredAt.IsZero() {
		t.Errorf("occurredAt should be zero without a date field, got %v", note.OccurredAt)
	}
	// Aliased wiki link flattens to its alias in the content.
	if want := "platform migration"; !strings.Contains(note.Content, want) {
		t.Errorf("content %q should contain %q", note.Content, want)
	}
	if strings.Contains(note.Content, "[[") {
		t.Errorf("content should not retain wiki link syntax: %q", note.Content)
	}
}

func TestParseNoteTitleFromFilename(t *testing.T) {
	note, err := ParseNote([]byte("just a line of text"), "/vault/meeting_notes-q3.md", "meeting_notes-q3.md")
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}
	if note.Title != "meeting notes q3" {
		t.Errorf("title = %q, want filename-derived title", note.Title)
	}
	if !strings.Contains(note.Content, "# meeting notes q3") {
		t.Errorf("content should open with the title heading: %q", note.Content)
	}
}

func TestParseNoteUnterminatedFrontMatter(t *testing.T) {
	content := []byte("---\ntitle: broken\n\nbody text without closing delimiter\n")
	note, err := ParseNote(content, "/vault/x.md", "x.md")
	if err != nil {
		t.Fatalf("unterminated front matter should fall back to full body: %v", err)
	}
	if !strings.Contains(note.Content, "body text") {
		t.Errorf("content = %q, want full text preserved", note.Content)
	}
}

func TestParseNoteInvalidYAML(t *testing.T) {
	content := []byte("---\ntitle: [unclosed\n---\nbody\n")
	if _, err := ParseNote(content, "/vault/bad.md", "bad.md"); err == nil {
		t.Fatal("invalid YAML front matter should be an error")
	}
}

func TestExtractWikiLinksDeduplicates(t *testing.T) {
	links := ExtractWikiLinks("[[Apollo]] and [[apollo]] and [[Beta|b]]")
	if len(links) != 2 {
		t.Fatalf("links = %v, want case-insensitive dedup to 2", links)
	}
	if links[0] != "Apollo" || links[1] != "Beta" {
		t.Errorf("links = %v, want [Apollo Beta]", links)
	}
}
