// Package gateway fuses the PTY manager, remote pool, and circuit breaker
// into a per-connection state machine: handshake, input parsing, command
// routing, concurrent bidirectional pumping, and guaranteed teardown.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/termgate/internal/breaker"
	"github.com/ehrlich-b/termgate/internal/config"
	"github.com/ehrlich-b/termgate/internal/gatewayerr"
	"github.com/ehrlich-b/termgate/internal/logger"
	"github.com/ehrlich-b/termgate/internal/ptymux"
	"github.com/ehrlich-b/termgate/internal/sshpool"
)

// Gateway is the process-wide value constructed once in cmd/termgated and
// handed to every request handler (spec.md §9: "all are reachable only
// through the gateway state value"). Its three subsystems — registry, pool,
// breaker map — are each independently locked; the Gateway itself adds no
// further locking beyond what each subsystem already provides.
type Gateway struct {
	PTY      *ptymux.Manager
	Pool     *sshpool.Pool
	Breakers *breaker.Registry
	Cfg      *config.Watcher

	createLimiter *rate.Limiter

	mux *http.ServeMux
}

// New wires the four subsystems together using the live config's initial
// values for the PTY manager's shell, the pool and the breaker registry.
// Those settings are read once here: later config edits do not reach the
// pool, the breakers or the shell. The remote-exec timeout, output cap, SSH
// key path and reader poll interval are read from Cfg at use time.
func New(cfg *config.Watcher) *Gateway {
	c := cfg.Get()

	g := &Gateway{
		PTY: ptymux.New(c.Shell),
		Pool: sshpool.New(sshpool.Config{
			MaxPerHost:     c.PoolMaxPerHost,
			IdleTimeout:    c.PoolIdleTimeout(),
			ConnectTimeout: c.PoolConnectTimeout(),
		}),
		Breakers: breaker.NewRegistry(breaker.Config{
			FailureThreshold: c.BreakerFailureThreshold,
			SuccessThreshold: c.BreakerSuccessThreshold,
			Timeout:          c.BreakerTimeout(),
		}),
		Cfg:           cfg,
		createLimiter: rate.NewLimiter(rate.Limit(20), 40),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", g.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}/ws", g.handleSessionWS)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	g.mux = mux

	return g
}

func (g *Gateway) Handler() http.Handler {
	return g.mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !g.createLimiter.Allow() {
		http.Error(w, "too many session-creation requests", http.StatusTooManyRequests)
		return
	}

	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("gateway: rejecting session-creation request", "err", fmt.Errorf("%w: %v", gatewayerr.ErrInvalidRequest, err))
			http.Error(w, gatewayerr.ErrInvalidRequest.Error(), http.StatusBadRequest)
			return
		}
	}
	rows, cols := req.Rows, req.Cols
	if rows == 0 {
		rows = defaultRows
	}
	if cols == 0 {
		cols = defaultCols
	}

	id, err := g.PTY.Spawn("", int(rows), int(cols))
	if err != nil {
		logger.Error("gateway: spawn failed", "err", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CreateSessionResponse{SessionID: id.String()})
}

// statEntry mirrors one host's pool.Stat as JSON, keyed by its human-readable
// user@host:port form rather than the struct key (sshpool.HostKey doesn't
// marshal to a useful JSON object key).
type statEntry struct {
	Host  string `json:"host"`
	Total int    `json:"total"`
	InUse int    `json:"in_use"`
}

// handleStats exposes per-host pool occupancy for termgatectl's status
// subcommand and any external monitoring.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	raw := g.Pool.Stats()
	entries := make([]statEntry, 0, len(raw))
	for key, stat := range raw {
		entries = append(entries, statEntry{Host: key.String(), Total: stat.Total, InUse: stat.InUse})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// remoteExecTimeout and maxStreamedOutputBytes read the live config at call
// time so edits apply to newly dispatched remote commands immediately.
func (g *Gateway) remoteExecTimeout() time.Duration {
	return g.Cfg.Get().RemoteExecTimeout()
}

func (g *Gateway) maxStreamedOutputBytes() int64 {
	return g.Cfg.Get().MaxStreamedOutputBytes()
}

func (g *Gateway) sshKeyPath() string {
	return g.Cfg.Get().SSHKeyPath
}

func (g *Gateway) readerPollInterval() time.Duration {
	return g.Cfg.Get().ReaderPollInterval()
}
