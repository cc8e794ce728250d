// Package api serves the vitals HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/session"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/version"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

const (
	defaultHours = 1
	maxHours     = 24 * 31
)

// Store is the history backend. *db.DB implements it.
type Store interface {
	VitalsSince(ctx context.Context, since time.Time, limit int) ([]vitals.VitalsRecord, error)
	Summary(ctx context.Context, since time.Time) (db.VitalsSummary, error)
	Sessions(ctx context.Context, limit int) ([]db.SessionInfo, error)
}

// AdminRouter attaches debug routes under /debug/.
type AdminRouter interface {
	AttachAdminRoutes(*http.ServeMux)
}

// Config wires the server to its collaborators. Only Session is required.
type Config struct {
	Session  *session.Session
	Store    Store
	LiveFeed http.Handler
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Admin    []AdminRouter
	Logger   *zap.Logger
	Clock    timeutil.Clock
}

type Server struct {
	session  *session.Session
	store    Store
	liveFeed http.Handler
	metrics  *monitoring.Metrics
	gatherer prometheus.Gatherer
	admin    []AdminRouter
	logger   *zap.Logger
	clock    timeutil.Clock
}

func NewServer(cfg Config) *Server {
	s := &Server{
		session:  cfg.Session,
		store:    cfg.Store,
		liveFeed: cfg.LiveFeed,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		admin:    cfg.Admin,
		logger:   monitoring.OrDefault(cfg.Logger).Named("api"),
		clock:    cfg.Clock,
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	return s
}

// Router returns the API routes without middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/vitals/latest", s.latest).Methods(http.MethodGet)
	r.HandleFunc("/vitals/history", s.history).Methods(http.MethodGet)
	r.HandleFunc("/vitals/summary", s.summary).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.sessions).Methods(http.MethodGet)
	r.HandleFunc("/session/{action:reset|pause|resume}", s.control).Methods(http.MethodPost)
	r.HandleFunc("/version", s.version).Methods(http.MethodGet)

	if s.liveFeed != nil {
		r.Handle("/ws", s.liveFeed)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if len(s.admin) > 0 {
		debug := http.NewServeMux()
		for _, a := range s.admin {
			a.AttachAdminRoutes(debug)
		}
		r.PathPrefix("/debug/").Handler(debug)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return r
}

// Handler returns the routes wrapped in the logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	r := s.Router()
	r.Use(s.metricsMiddleware)
	return LoggingMiddleware(s.logger, r)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.session.Snapshot())
}

func (s *Server) control(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["action"] {
	case "reset":
		s.session.Reset()
	case "pause":
		s.session.Pause()
	case "resume":
		s.session.Resume()
	}
	httputil.WriteJSONOK(w, s.session.Snapshot())
}

// parsePositive reads an optional positive integer query parameter.
func parsePositive(r *http.Request, name string, def, maxValue int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxValue {
		return 0, errors.New("invalid '" + name + "' parameter")
	}
	return n, nil
}

func (s *Server) since(r *http.Request) (time.Time, error) {
	hours, err := parsePositive(r, "hours", defaultHours, maxHours)
	if err != nil {
		return time.Time{}, err
	}
	return s.clock.Now().Add(-time.Duration(hours) * time.Hour), nil
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		httputil.ServiceUnavailable(w, "history store not configured")
		return false
	}
	return true
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	since, err := s.since(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := parsePositive(r, "limit", db.DefaultHistoryLimit, 100000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.store.VitalsSince(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		httputil.InternalServerError(w, "failed to retrieve history")
		return
	}
	if records == nil {
		records = []vitals.VitalsRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	since, err := s.since(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sum, err := s.store.Summary(r.Context(), since)
	if err != nil {
		s.logger.Error("summary query failed", zap.Error(err))
		httputil.InternalServerError(w, "failed to compute summary")
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, err := parsePositive(r, "limit", 100, 10000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	list, err := s.store.Sessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("sessions query failed", zap.Error(err))
		httputil.InternalServerError(w, "failed to retrieve sessions")
		return
	}
	if list == nil {
		list = []db.SessionInfo{}
	}
	httputil.WriteJSONOK(w, list)
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
