package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/haukened/callguard/internal/guard/common/phone"
	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/repos/eventlog"
	"github.com/haukened/callguard/internal/guard/services/supervisor"
)

const maxBodyBytes = 64 << 10

func (s *Server) registerRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/blocked", s.handleBlock).Methods(http.MethodPost)
	api.HandleFunc("/blocked", s.handleListBlocked).Methods(http.MethodGet)
	api.HandleFunc("/blocked/{identifier}", s.handleUnblock).Methods(http.MethodDelete)

	api.HandleFunc("/interception", s.handleInterceptionState).Methods(http.MethodGet)
	api.HandleFunc("/interception/start", s.handleInterceptionStart).Methods(http.MethodPost)
	api.HandleFunc("/interception/stop", s.handleInterceptionStop).Methods(http.MethodPost)
	api.HandleFunc("/screening/role", s.handleScreeningRole).Methods(http.MethodPost)

	api.HandleFunc("/events/calls", s.handleCallEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/messages", s.handleMessageEvents).Methods(http.MethodGet)

	r.HandleFunc("/content/blocked_numbers", s.handleRows).Methods(http.MethodGet)
	r.HandleFunc("/content/blocked_numbers", s.handleInsertRow).Methods(http.MethodPost)
	r.HandleFunc("/content/blocked_numbers/{row:[0-9]+}", s.handleGetRow).Methods(http.MethodGet)
	r.HandleFunc("/content/blocked_numbers/{row:[0-9]+}", s.handleUpdateRow).Methods(http.MethodPut)
	r.HandleFunc("/content/blocked_numbers/{row:[0-9]+}", s.handleDeleteRow).Methods(http.MethodDelete)
}

type blockRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=64"`
	DisplayName string `json:"displayName" validate:"max=128"`
}

type insertRowRequest struct {
	Number string `json:"number" validate:"required,max=64"`
	Name   string `json:"name" validate:"max=128"`
}

type updateRowRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

// rowView mirrors the blocked_numbers table columns.
type rowView struct {
	ID           uint64 `json:"_id"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	DateAdded    int64  `json:"date_added"`
	BlockedCalls uint64 `json:"blocked_calls"`
	BlockedSMS   uint64 `json:"blocked_sms"`
}

func toRow(e domain.BlockedEntry) rowView {
	return rowView{
		ID:           e.Row,
		Number:       e.Identifier,
		Name:         e.DisplayName,
		DateAdded:    e.DateAdded.UnixMilli(),
		BlockedCalls: e.BlockedCalls,
		BlockedSMS:   e.BlockedMessages,
	}
}

type callView struct {
	Identifier string    `json:"identifier"`
	Outcome    string    `json:"outcome"`
	Direction  string    `json:"direction"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.blocklist.Block(req.Identifier, req.DisplayName)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": entry})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	existed, err := s.blocklist.Unblock(mux.Vars(r)["identifier"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "existed": existed})
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	order, err := domain.ParseSortOrder(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	entries, err := s.blocklist.List(order)
	if err != nil {
		s.fail(w, err)
		return
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Identifier)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"identifiers": ids,
		"entries":     entries,
	})
}

func (s *Server) handleInterceptionState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.interception.State()})
}

func (s *Server) handleInterceptionStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.interception.Start(r.Context())
	s.writeLifecycle(w, state, err)
}

func (s *Server) handleInterceptionStop(w http.ResponseWriter, _ *http.Request) {
	state, err := s.interception.Stop()
	s.writeLifecycle(w, state, err)
}

func (s *Server) writeLifecycle(w http.ResponseWriter, state supervisor.State, err error) {
	if err != nil {
		s.logger.Warn(map[string]any{"state": state, "error": err.Error()}, "interception lifecycle request failed")
		status, code := classify(err)
		writeJSON(w, status, map[string]any{
			"ok":    false,
			"state": state,
			"error": errorBody{Code: code, Message: err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": state})
}

// handleScreeningRole acknowledges a screening role request. The platform
// bridge owns the role; screening is served regardless.
func (s *Server) handleScreeningRole(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info(nil, "call screening role requested")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	if err := domain.Require(s.permissions, domain.CapReadCallLog); err != nil {
		s.fail(w, err)
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": []callView{}})
		return
	}
	events, err := s.events.Calls(q)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]callView, 0, len(events))
	for _, e := range events {
		out = append(out, callView{
			Identifier: e.Identifier,
			Outcome:    e.Outcome.String(),
			Direction:  e.Direction.String(),
			Timestamp:  e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": out})
}

func (s *Server) handleMessageEvents(w http.ResponseWriter, r *http.Request) {
	if err := domain.Require(s.permissions, domain.CapReadSMS); err != nil {
		s.fail(w, err)
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	events := []domain.MessageEvent{}
	if s.events != nil {
		got, err := s.events.Messages(q)
		if err != nil {
			s.fail(w, err)
			return
		}
		if got != nil {
			events = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": events})
}

// parseQuery reads since (RFC 3339 or unix millis), identifier and limit.
func parseQuery(r *http.Request) (eventlog.Query, error) {
	v := r.URL.Query()
	var q eventlog.Query
	if raw := v.Get("since"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.Since = time.UnixMilli(ms)
		} else if t, err := time.Parse(time.RFC3339, raw); err == nil {
			q.Since = t
		} else {
			return q, fmt.Errorf("invalid since: %q", raw)
		}
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit: %q", raw)
		}
		q.Limit = n
	}
	if raw := v.Get("identifier"); raw != "" {
		q.Identifier = phone.Normalize(raw)
	}
	return q, nil
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	order, err := domain.ParseSortOrder(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	entries, err := s.blocklist.List(order)
	if err != nil {
		s.fail(w, err)
		return
	}
	rows := make([]rowView, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toRow(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rows": rows})
}

func (s *Server) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	var req insertRowRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.blocklist.Insert(req.Number, req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/content/blocked_numbers/%d", entry.Row))
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "row": toRow(entry)})
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	row, ok := s.rowParam(w, r)
	if !ok {
		return
	}
	entry, found, err := s.blocklist.GetRow(row)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !found {
		s.fail(w, fmt.Errorf("row %d: %w", row, domain.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "row": toRow(entry)})
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	row, ok := s.rowParam(w, r)
	if !ok {
		return
	}
	var req updateRowRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.blocklist.UpdateRow(row, req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": 1, "row": toRow(entry)})
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	row, ok := s.rowParam(w, r)
	if !ok {
		return
	}
	existed, err := s.blocklist.DeleteRow(row)
	if err != nil {
		s.fail(w, err)
		return
	}
	deleted := 0
	if existed {
		deleted = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
}

func (s *Server) rowParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	row, err := strconv.ParseUint(mux.Vars(r)["row"], 10, 64)
	if err != nil {
		s.handleUnknownRoute(w, r)
		return 0, false
	}
	return row, true
}

func (s *Server) handleUnknownRoute(w http.ResponseWriter, r *http.Request) {
	err := fmt.Errorf("%w: %s %s", domain.ErrUnknownRoute, r.Method, r.URL.Path)
	writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", err.Error())
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(map[string]any{"error": err.Error()}, "control request failed")
	}
	writeError(w, status, code, err.Error())
}

// classify maps domain errors onto HTTP status codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED"
	case errors.Is(err, domain.ErrDuplicateIdentifier):
		return http.StatusConflict, "DUPLICATE_IDENTIFIER"
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return http.StatusBadRequest, "INVALID_IDENTIFIER"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnknownRoute):
		return http.StatusNotFound, "UNKNOWN_ROUTE"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": errorBody{Code: code, Message: message},
	})
}
