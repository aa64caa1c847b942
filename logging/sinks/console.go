package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"arena-duel/server/logging"
)

// Console prints one line per event for an operator watching a duel:
//
//	15:04:05.000 WARN network.message_dropped #120 peer:2 kind=ApplyDamage reason=rate_limited
//
// Payload fields are flattened to sorted key=value pairs.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (s *Console) Write(event logging.Event) error {
	if s.w == nil {
		return nil
	}
	var b strings.Builder
	if !event.Time.IsZero() {
		b.WriteString(event.Time.Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	if event.Severity >= logging.SeverityWarn {
		b.WriteString(strings.ToUpper(event.Severity.String()))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%s #%d %s", event.Type, event.Tick, formatEntity(event.Actor))
	for i, target := range event.Targets {
		if i == 0 {
			b.WriteString(" ->")
		}
		b.WriteByte(' ')
		b.WriteString(formatEntity(target))
	}
	for _, kv := range flatten(event.Payload) {
		b.WriteByte(' ')
		b.WriteString(kv)
	}
	if event.MatchID != "" {
		b.WriteString(" match=")
		b.WriteString(event.MatchID)
	}
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

func (s *Console) Close(context.Context) error {
	return nil
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}

func flatten(payload any) []string {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return []string{fmt.Sprintf("payload=%v", payload)}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return []string{"payload=" + string(data)}
	}
	out := make([]string, 0, len(fields))
	for k, v := range fields {
		value := string(v)
		var str string
		if json.Unmarshal(v, &str) == nil {
			value = str
		}
		out = append(out, k+"="+value)
	}
	sort.Strings(out)
	return out
}
