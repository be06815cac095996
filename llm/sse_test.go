package llm

import (
	"strings"
	"testing"
)

func TestSSEScannerDataEvents(t *testing.T) {
	stream := "data: one\n\ndata: two\n\ndata: [DONE]\n\n"
	s := NewSSEScanner(strings.NewReader(stream))

	var got []string
	for s.Scan() {
		got = append(got, s.Data())
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v", s.Err())
	}

	want := []string{"one", "two", "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSSEScannerNamedAndMultilineEvents(t *testing.T) {
	stream := ": keep-alive\n" +
		"event: message\n" +
		"data: first line\n" +
		"data: second line\n" +
		"\n" +
		"retry: 5000\n" +
		"data:no-space\n"
	s := NewSSEScanner(strings.NewReader(stream))

	if !s.Scan() {
		t.Fatal("expected first event")
	}
	if s.Event() != "message" {
		t.Errorf("Event() = %q, want %q", s.Event(), "message")
	}
	if s.Data() != "first line\nsecond line" {
		t.Errorf("Data() = %q", s.Data())
	}

	// Final event has no trailing blank line; the event name resets and
	// the retry field is ignored.
	if !s.Scan() {
		t.Fatal("expected final event")
	}
	if s.Event() != "" {
		t.Errorf("Event() = %q, want empty", s.Event())
	}
	if s.Data() != "no-space" {
		t.Errorf("Data() = %q, want %q", s.Data(), "no-space")
	}

	if s.Scan() {
		t.Error("expected end of stream")
	}
}
