package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortMessage(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("x", 10)
	}
	s := strings.Join(lines, "\n")

	chunks := splitText(s, 100, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d over limit: %d runes", i, len([]rune(c)))
		}
		// Newline-aligned splitting keeps every line intact.
		for _, line := range strings.Split(c, "\n") {
			if line != strings.Repeat("x", 10) {
				t.Fatalf("line broken mid-way: %q", line)
			}
		}
	}

	joined := strings.Join(chunks, "\n")
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(s, "\n", "") {
		t.Fatal("content lost while splitting")
	}
}

func TestSplitTextAvoidsBreakingHTMLTags(t *testing.T) {
	t.Parallel()
	// The window boundary lands in the middle of "<b>".
	s := strings.Repeat("a", 98) + "<b>bold</b>"
	chunks := splitText(s, 100, "HTML")
	for _, c := range chunks {
		opens := strings.Count(c, "<")
		closes := strings.Count(c, ">")
		if opens != closes {
			t.Fatalf("chunk split inside a tag: %q", c)
		}
	}
}

func TestSplitTextNoNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 250)
	chunks := splitText(s, 100, "")
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if got := strings.Join(chunks, ""); got != s {
		t.Fatal("content lost while splitting")
	}
}
