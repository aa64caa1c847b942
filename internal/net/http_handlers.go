package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"arena-duel/server"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/net/ws"
	"arena-duel/server/internal/telemetry"
)

type HTTPHandlerConfig struct {
	Logger telemetry.Logger
	WS     ws.HandlerConfig
	// EnablePprofTrace mounts /debug/pprof/trace.
	EnablePprofTrace bool
}

func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	if cfg.WS.Logger == nil {
		cfg.WS.Logger = cfg.Logger
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		hubCfg := hub.Config()
		authority, _ := hub.Authority()
		var counters map[string]uint64
		if c, ok := hub.Metrics().(*telemetry.Counters); ok {
			counters = c.Snapshot()
		}

		payload := struct {
			Status          string `json:"status"`
			ServerTime      int64  `json:"serverTime"`
			ProtocolVersion int    `json:"protocolVersion"`
			Peers           any    `json:"peers"`
			Authority       int    `json:"authority"`
			MatchID         string `json:"matchId,omitempty"`
			MaxPeers        int    `json:"maxPeers"`
			Heartbeat       int64  `json:"heartbeatMillis"`
			Telemetry       any    `json:"telemetry"`
		}{
			Status:          "ok",
			ServerTime:      time.Now().UnixMilli(),
			ProtocolVersion: proto.Version,
			Peers:           hub.DiagnosticsSnapshot(),
			Authority:       int(authority),
			MatchID:         hub.MatchID(),
			MaxPeers:        hubCfg.MaxPeers,
			Heartbeat:       hubCfg.HeartbeatInterval.Milliseconds(),
			Telemetry:       counters,
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/ws", ws.NewHandler(hub, cfg.WS).Handle)

	if cfg.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
