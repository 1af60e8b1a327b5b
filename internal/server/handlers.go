package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"echohook/internal/capture"
	"echohook/internal/dispatch"
	"echohook/internal/har"
	"echohook/internal/types"
)

const (
	defaultListWindow = 24 * time.Hour
	defaultListLimit  = 500
	maxConfigureBytes = 1 << 20
)

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	from, to, err := s.timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.dispatcher.ListRequests(r.Context(), tenantID, from, to, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request, tenantID string, ps httprouter.Params) {
	req, err := s.dispatcher.GetRequest(r.Context(), tenantID, ps.ByName("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(capture.RawRequest(req)))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handlePurgeRequests(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	n, err := s.dispatcher.PurgeRequests(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResult{Deleted: n})
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	list, err := s.dispatcher.ListResponses(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type configureRequest struct {
	Path        string `json:"path"`
	Body        string `json:"body"`
	ContentKind string `json:"contentKind"`
	StatusCode  *int   `json:"statusCode"`
}

func (s *Server) handleConfigureResponse(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	var in configureRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigureBytes))
	if err := dec.Decode(&in); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, types.Validationf("Invalid request body: %s", err.Error()))
		return
	}
	status := http.StatusOK
	if in.StatusCode != nil {
		status = *in.StatusCode
	}

	rule, err := s.dispatcher.ConfigureResponse(r.Context(), tenantID, dispatch.ConfigureInput{
		Path:        in.Path,
		Body:        in.Body,
		ContentKind: in.ContentKind,
		StatusCode:  status,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleDeleteResponse(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	q := r.URL.Query()
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		n, err := s.dispatcher.PurgeResponses(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, purgeResult{Deleted: n})
		return
	}

	path := q.Get("path")
	if strings.TrimSpace(path) == "" {
		s.writeError(w, r, types.Validationf("Path cannot be null or whitespace."))
		return
	}
	if err := s.dispatcher.DeleteResponse(r.Context(), tenantID, path); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportHAR(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	from, to, err := s.timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reqs, err := s.dispatcher.ExportRequests(r.Context(), tenantID, from, to, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc := har.FromRequests(reqs, s.version)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=echohook-%s.har", tenantID))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.logger.Error("encode har", "tenant", tenantID, "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.events.Subscribe(tenantID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: ok\n\n")
	flusher.Flush()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("encode event", "tenant", tenantID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: request\ndata: %s\n\n", b)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request, tenantID string, ps httprouter.Params) {
	res, err := s.replayer.Replay(r.Context(), tenantID, ps.ByName("id"), r.URL.Query().Get("target"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReplayRange(w http.ResponseWriter, r *http.Request, tenantID string, _ httprouter.Params) {
	from, to, err := s.timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.replayer.ReplayRange(r.Context(), tenantID, from, to, r.URL.Query().Get("target"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type purgeResult struct {
	Deleted int `json:"deleted"`
}

type errorBody struct {
	Error string `json:"error"`
}

// timeRange reads the RFC3339 from/to query bounds. A missing to is now and a
// missing from is one day before to.
func (s *Server) timeRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	to = s.clock.Now().UTC()
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, types.Validationf("Invalid 'to' timestamp, expected RFC3339.")
		}
	}
	from = to.Add(-defaultListWindow)
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, types.Validationf("Invalid 'from' timestamp, expected RFC3339.")
		}
	}
	return from, to, nil
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, types.Validationf("Limit must be a positive integer.")
	}
	return n, nil
}

// writeError translates err into a status code and JSON error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *types.ValidationError
		maxErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message})
	case errors.Is(err, types.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.As(err, &maxErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)})
	case errors.Is(err, capture.ErrMalformedJSON),
		errors.Is(err, capture.ErrMalformedForm),
		errors.Is(err, capture.ErrNoClientAddress):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		s.logger.Debug("request abandoned", "method", r.Method, "path", r.URL.Path)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
