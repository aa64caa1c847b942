package observability

import (
	"context"
	"testing"
)

func TestSetupDisabledReturnsNoop(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "no endpoint", cfg: Config{OTelEnabled: true}},
		{name: "explicitly disabled", cfg: Config{OTelEnabled: false, OTelEndpoint: "http://localhost:4318"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.cfg.TracingEnabled() {
				t.Fatalf("expected tracing disabled")
			}
			shutdown, err := Setup(context.Background(), tc.cfg, "arena-test")
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestTracerStartsSpansWithoutProvider(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "combat.apply_damage")
	defer span.End()
	if span == nil {
		t.Fatalf("expected a span from the global provider")
	}
}
