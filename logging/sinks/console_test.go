package sinks

import (
	"bytes"
	"testing"
	"time"

	"arena-duel/server/logging"
)

func TestConsoleFormatsOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf)

	err := console.Write(logging.Event{
		Type:     "network.message_dropped",
		Tick:     120,
		Time:     time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Actor:    logging.PeerRef("2"),
		Severity: logging.SeverityWarn,
		Payload:  map[string]any{"reason": "rate_limited", "kind": "ApplyDamage"},
		MatchID:  "m-1",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	err = console.Write(logging.Event{
		Type:     "combat.damage",
		Tick:     7,
		Actor:    logging.PeerRef("1"),
		Targets:  []logging.EntityRef{{ID: "avatar-2", Kind: logging.EntityKindAvatar}},
		Severity: logging.SeverityInfo,
		Payload:  struct{ Amount int }{Amount: 25},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	want := "15:04:05.000 WARN network.message_dropped #120 peer:2 kind=ApplyDamage reason=rate_limited match=m-1\n" +
		"combat.damage #7 peer:1 -> avatar:avatar-2 Amount=25\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}
