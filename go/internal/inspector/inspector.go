// Package inspector serves a small local HTTP API exposing the client's
// connection and timer state.
package inspector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/signal"
	"github.com/mcdev12/studybuddy/go/internal/timer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Session is the part of realtime.Session the inspector reads.
type Session interface {
	ConnectionState() *signal.Value[realtime.ConnectionState]
	Multiplexer() *realtime.Multiplexer
}

// Timer is the part of timer.Engine the inspector reads.
type Timer interface {
	Snapshot() *timer.View
}

type Inspector struct {
	session  Session
	timer    Timer
	gatherer prometheus.Gatherer
	clock    clockwork.Clock
	started  time.Time
}

// New creates an inspector. timer may be nil when no room is entered;
// gatherer defaults to the Prometheus default registry.
func New(session Session, timer Timer, gatherer prometheus.Gatherer) *Inspector {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	clock := clockwork.NewRealClock()
	return &Inspector{
		session:  session,
		timer:    timer,
		gatherer: gatherer,
		clock:    clock,
		started:  clock.Now(),
	}
}

type stateResponse struct {
	Connection    string      `json:"connection"`
	Subscriptions []string    `json:"subscriptions"`
	Timer         *timer.View `json:"timer"`
	Uptime        string      `json:"uptime"`
}

type healthResponse struct {
	Healthy    bool   `json:"healthy"`
	Connection string `json:"connection"`
}

// Handler returns the inspector routes wrapped in CORS.
func (i *Inspector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", i.handleState)
	mux.HandleFunc("GET /health", i.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(i.gatherer, promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (i *Inspector) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Connection:    i.session.ConnectionState().Get().String(),
		Subscriptions: i.session.Multiplexer().Topics(),
		Uptime:        i.clock.Since(i.started).Round(time.Second).String(),
	}
	if i.timer != nil {
		resp.Timer = i.timer.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (i *Inspector) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := i.session.ConnectionState().Get()
	resp := healthResponse{
		Healthy:    state == realtime.Connected,
		Connection: state.String(),
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write inspector response")
	}
}

// NewServer returns an HTTP server for handler that also accepts cleartext
// HTTP/2.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
