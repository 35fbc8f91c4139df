package cmd

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateExcerpt(t *testing.T) {
	short := "a brief result"
	if got := truncateExcerpt(short, 400); got != short {
		t.Errorf("short input changed: %q", got)
	}

	long := strings.Repeat("世", 200)
	got := truncateExcerpt(long, 400)
	if !utf8.ValidString(got) {
		t.Errorf("truncated excerpt is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated excerpt missing ellipsis: %q", got)
	}
	// 400 is not a multiple of 3, so the cut must back up to a rune boundary.
	if body := strings.TrimSuffix(got, "…"); len(body) != 399 {
		t.Errorf("expected cut at 399 bytes, got %d", len(body))
	}

	exact := strings.Repeat("x", 400)
	if got := truncateExcerpt(exact, 400); got != exact {
		t.Errorf("input at the limit changed: %q", got)
	}
}
