package inputproto

import "testing"

func TestValidateMouseMoveNegativeCoords(t *testing.T) {
	stats := NewStats()
	e := Event{Type: TypeMouseMove, X: -1, Y: 100}
	stats.RecordReceived(e.Type)

	err := e.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative x")
	}
	stats.RecordFailed(err.Error())

	if stats.EventsFailed != 1 {
		t.Errorf("events_failed = %d, want 1", stats.EventsFailed)
	}
	errs := stats.RecentErrors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 recorded error, got %d", len(errs))
	}
}

func TestValidateRelativeDeltaBound(t *testing.T) {
	ok := Event{Type: TypeMouseMoveRelative, DX: 10000, DY: -10000}
	if err := ok.Validate(); err != nil {
		t.Errorf("boundary delta should be valid: %v", err)
	}

	bad := Event{Type: TypeMouseMoveRelative, DX: 10001}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for delta exceeding 10000")
	}
}

func TestValidateScrollClicksBound(t *testing.T) {
	ok := Event{Type: TypeMouseScroll, Clicks: 100}
	if err := ok.Validate(); err != nil {
		t.Errorf("100 clicks should be valid: %v", err)
	}
	bad := Event{Type: TypeMouseScroll, Clicks: 101}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for clicks > 100")
	}
}

func TestValidateTypeTextEmptyIsNoop(t *testing.T) {
	e := Event{Type: TypeTypeText, Text: ""}
	if err := e.Validate(); err != nil {
		t.Errorf("empty text should validate: %v", err)
	}
}

func TestValidateTypeTextTooLong(t *testing.T) {
	text := make([]byte, 10001)
	e := Event{Type: TypeTypeText, Text: string(text)}
	if err := e.Validate(); err == nil {
		t.Error("expected error for text > 10000 chars")
	}
}

func TestValidateCombinationEmptyIsInvalid(t *testing.T) {
	e := Event{Type: TypeKeyCombination, Keys: nil}
	err := e.Validate()
	if err == nil {
		t.Fatal("expected error for empty combination")
	}
	if err.(*InputError).Kind != "invalid" {
		t.Errorf("kind = %q, want invalid", err.(*InputError).Kind)
	}
}

func TestValidateCombinationTooManyKeys(t *testing.T) {
	keys := make([]string, 11)
	for i := range keys {
		keys[i] = "a"
	}
	e := Event{Type: TypeKeyCombination, Keys: keys}
	if err := e.Validate(); err == nil {
		t.Error("expected error for combination > 10 keys")
	}
}

func TestStatsErrorRingBounded(t *testing.T) {
	stats := NewStats()
	for i := 0; i < 15; i++ {
		stats.RecordFailed("err")
	}
	if got := len(stats.RecentErrors()); got != maxErrorRing {
		t.Errorf("ring length = %d, want %d", got, maxErrorRing)
	}
	if stats.EventsFailed != 15 {
		t.Errorf("events_failed = %d, want 15 (ring bounds storage, not the counter)", stats.EventsFailed)
	}
}
