package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
	"github.com/BrandonDHaskell/Portunus/relay/internal/relay"
)

type Dependencies struct {
	Logger   zerolog.Logger
	Addr     string
	Relay    *relay.Service
	Table    *authtable.Table
	Events   *eventlog.List
	Mode     *mode.Controller
	Exporter *archive.Exporter
	Archive  archive.Store

	// OnModeChange, if set, sees every mode set over HTTP.
	OnModeChange func(mode.State)
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	mux        *http.ServeMux

	relay    *relay.Service
	table    *authtable.Table
	events   *eventlog.List
	mode     *mode.Controller
	exporter *archive.Exporter
	archive  archive.Store

	onModeChange func(mode.State)
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		relay:    d.Relay,
		table:    d.Table,
		events:   d.Events,
		mode:     d.Mode,
		exporter: d.Exporter,
		archive:  d.Archive,

		onModeChange: d.OnModeChange,
	}

	mux.HandleFunc("POST /v1/access_request", s.handleAccessRequest)
	mux.HandleFunc("GET /v1/events", s.handleDrainEvents)
	mux.HandleFunc("GET /v1/archive", s.handleArchive)
	mux.HandleFunc("GET /v1/table", s.handleListTable)
	mux.HandleFunc("PUT /v1/table/{tag}", s.handleSetTag)
	mux.HandleFunc("DELETE /v1/table", s.handleClearTable)
	mux.HandleFunc("GET /v1/mode", s.handleGetMode)
	mux.HandleFunc("PUT /v1/mode", s.handleSetMode)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	metrics.RegisterMetrics()
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Access ───────────────────────────────────────────────────────────────────

type accessRequest struct {
	TagID string `json:"tag_id"`
}

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if isProtobuf(r) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_body", "unreadable body")
			return
		}
		if req.TagID, err = decodeAccessRequest(body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	tag, err := authtable.ParseTagID(req.TagID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tag_id", err.Error())
		return
	}

	d, err := s.relay.Decide(r.Context(), tag)
	if err != nil {
		s.logger.Error().Err(err).Str("tag", tag.String()).Msg("access_request error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	if wantsProtobuf(r) {
		writeProto(w, http.StatusOK, encodeDecision(d))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ── Events ───────────────────────────────────────────────────────────────────

func (s *Server) handleDrainEvents(w http.ResponseWriter, r *http.Request) {
	b, err := s.exporter.Drain(r.Context())
	archived := err == nil
	if err != nil {
		// The drained events only exist in this response now; send them.
		s.logger.Error().Err(err).Int("events", len(b.Records)).Msg("drain archive error")
	}

	if wantsProtobuf(r) {
		writeProto(w, http.StatusOK, encodeBatch(b))
		return
	}
	writeJSON(w, http.StatusOK, batchToView(b, archived))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.archive.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("archive list error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	out := make([]eventView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// ── Table ────────────────────────────────────────────────────────────────────

func (s *Server) handleListTable(w http.ResponseWriter, r *http.Request) {
	entries, err := s.table.Entries()
	if err != nil {
		s.logger.Error().Err(err).Msg("table list error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":    len(entries),
		"capacity": authtable.MaxUsers,
		"entries":  out,
	})
}

type setTagRequest struct {
	Authorized *bool `json:"authorized"`
}

func (s *Server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	tag, err := authtable.ParseTagID(r.PathValue("tag"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tag_id", err.Error())
		return
	}
	var req setTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Authorized == nil {
		writeError(w, http.StatusBadRequest, "missing_authorized", "authorized is required")
		return
	}

	res, err := s.table.SetUserAuth(tag, *req.Authorized)
	if err != nil {
		s.logger.Error().Err(err).Str("tag", tag.String()).Msg("table update error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	metrics.RecordTableUpdate(res.String())

	status := http.StatusOK
	if res == authtable.Full {
		status = http.StatusInsufficientStorage
	}
	writeJSON(w, status, map[string]any{"tag_id": tag.String(), "result": res.String()})
}

func (s *Server) handleClearTable(w http.ResponseWriter, _ *http.Request) {
	if err := s.table.ClearTable(); err != nil {
		s.logger.Error().Err(err).Msg("table clear error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	s.logger.Info().Msg("authorization table cleared over http")
	w.WriteHeader(http.StatusNoContent)
}

// ── Mode / status ────────────────────────────────────────────────────────────

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.mode.State().String()})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tr, err := ParseTransition(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	old, updated := s.mode.Apply(tr)
	if s.onModeChange != nil {
		s.onModeChange(updated)
	}
	s.logger.Info().Str("from", old.String()).Str("to", updated.String()).Msg("mode changed over http")
	writeJSON(w, http.StatusOK, map[string]string{"mode": updated.String(), "previous": old.String()})
}

var errUnknownMode = errors.New("mode must be auto, enabled or disabled")

// ParseTransition maps a mode name to the transition that reaches it.
func ParseTransition(name string) (mode.Transition, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "auto":
		return mode.ToAuto, nil
	case "enabled", "enable":
		return mode.ToEnabled, nil
	case "disabled", "disable":
		return mode.ToDisabled, nil
	default:
		return mode.None, errUnknownMode
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	users, err := s.table.NumUsers()
	if err != nil {
		s.logger.Error().Err(err).Msg("status error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           s.mode.State().String(),
		"users":          users,
		"capacity":       authtable.MaxUsers,
		"pending_events": s.events.Size(),
		"log_capacity":   eventlog.Capacity,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}
