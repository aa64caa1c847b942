package observability

// Config captures opt-in observability toggles that wire into the relay and
// peer processes.
type Config struct {
	EnablePprofTrace bool   `env:"ARENA_ENABLE_PPROF_TRACE" envDefault:"false"`
	OTelEnabled      bool   `env:"ARENA_OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint     string `env:"ARENA_OTEL_ENDPOINT"`
}

// TracingEnabled reports whether spans should be exported.
func (c Config) TracingEnabled() bool {
	return c.OTelEnabled && c.OTelEndpoint != ""
}
