package i18n

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"allybot/internal/schedule"
)

func TestCatalogLoadsAllLanguages(t *testing.T) {
	t.Parallel()
	c := MustNew("de")
	for _, l := range []string{"de", "en", "es", "fr"} {
		if !c.Supports(l) {
			t.Fatalf("missing catalog %q (have %v)", l, c.Languages())
		}
	}
	if _, err := New("xx"); err == nil {
		t.Fatal("unknown default language should fail")
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()
	c := MustNew("de")
	tests := []struct {
		lang, id, want string
	}{
		{"en", "buff.training", "Training Buff"},
		{"DE", "buff.training", "Trainings-Buff"},
		{"fr-CA", "buff.build", "Buff de Construction"},
		{"ja", "buff.research", "Forschungs-Buff"},
		{"en", "no.such.key", "no.such.key"},
	}
	for _, tt := range tests {
		tt := tt
		if got := c.T(tt.lang, tt.id, nil); got != tt.want {
			t.Fatalf("T(%q, %q) = %q, want %q", tt.lang, tt.id, got, tt.want)
		}
	}
	got := c.T("en", "reminder.lead", Data{"Title": "Raid", "Minutes": 5, "Time": "20:00"})
	if !strings.Contains(got, "Raid") || !strings.Contains(got, "5 min") {
		t.Fatalf("template not rendered: %q", got)
	}
}

func TestErrorText(t *testing.T) {
	t.Parallel()
	c := MustNew("en")
	wrapped := fmt.Errorf("item 3: %w", schedule.ErrSlotsFull)
	if got := c.ErrorText("en", wrapped); got != "All slots are taken." {
		t.Fatalf("ErrorText = %q", got)
	}
	if got := c.ErrorText("en", errors.New("boom")); got != "Something went wrong." {
		t.Fatalf("generic = %q", got)
	}
	if got := c.StatusLabel("en", schedule.KindWarplan, schedule.StatusMaybe); got != "Question" {
		t.Fatalf("warplan label = %q", got)
	}
}
