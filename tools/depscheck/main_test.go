package main

import (
	"strings"
	"testing"
)

func TestCheckReportsTransportImports(t *testing.T) {
	input := `
{"ImportPath":"arena-duel/server/internal/combat","Imports":["context","arena-duel/server/internal/messaging"]}
{"ImportPath":"arena-duel/server/internal/match","Imports":["arena-duel/server/internal/store/sqlite","github.com/gorilla/websocket"]}
{"ImportPath":"arena-duel/server/internal/draft","Imports":["arena-duel/server","net/http/httptest"]}
`
	violations, err := check(strings.NewReader(input))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	want := []string{
		"arena-duel/server/internal/draft -> arena-duel/server",
		"arena-duel/server/internal/draft -> net/http/httptest",
		"arena-duel/server/internal/match -> arena-duel/server/internal/store/sqlite",
		"arena-duel/server/internal/match -> github.com/gorilla/websocket",
	}
	if len(violations) != len(want) {
		t.Fatalf("expected %d violations, got %v", len(want), violations)
	}
	for i := range want {
		if violations[i] != want[i] {
			t.Fatalf("violation %d = %q, want %q", i, violations[i], want[i])
		}
	}
}

func TestCheckRejectsMalformedInput(t *testing.T) {
	if _, err := check(strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
