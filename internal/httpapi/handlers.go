package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tokenrelay/tokenrelay/internal/logstore"
)

var streamIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// backendReady writes a 503 and returns false when no log store is
// reachable. Checked before anything touches the log, on every route.
func (s *Server) backendReady(w http.ResponseWriter) bool {
	if s.store == nil || !s.store.Configured() {
		writeError(w, http.StatusServiceUnavailable, "Streaming not available")
		return false
	}
	return true
}

// streamExists guards the terminal-state endpoints: flipping metadata
// for a never-created id would mint a stream out of thin air.
func (s *Server) streamExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.store.Metadata(r.Context(), id); err != nil {
		if errors.Is(err, logstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Stream not found")
			return false
		}
		log.Error().Err(err).Str("stream_id", id).Msg("metadata lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to read stream metadata")
		return false
	}
	return true
}

func (s *Server) streamID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !streamIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "Invalid stream ID format")
		return "", false
	}
	return id, true
}

// handleRead is the reader endpoint: GET /api/stream/{id}?cursor=.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if !s.backendReady(w) {
		return
	}
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}

	cursor := r.URL.Query().Get("cursor")
	if cursor == "" {
		cursor = logstore.ZeroCursor
	}

	s.publisher.ServeStream(w, r, id, cursor)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.backendReady(w) {
		return
	}

	id := uuid.NewString()
	if err := s.store.Create(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("create stream failed")
		writeError(w, http.StatusInternalServerError, "Failed to create stream")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if !s.backendReady(w) {
		return
	}
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}

	var body struct {
		Delta string `json:"delta"`
		TS    int64  `json:"ts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.TS == 0 {
		body.TS = time.Now().UnixMilli()
	}

	entryID, err := s.store.Append(r.Context(), id, body.Delta, body.TS)
	if err != nil {
		if errors.Is(err, logstore.ErrStreamTerminal) {
			writeError(w, http.StatusConflict, "Stream already terminal")
			return
		}
		log.Error().Err(err).Str("stream_id", id).Msg("append failed")
		writeError(w, http.StatusInternalServerError, "Failed to append")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": entryID})
}

// handleIngest consumes an upstream SSE body and feeds the token log.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.backendReady(w) {
		return
	}
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}

	res, err := s.ingester.Run(r.Context(), id, r.Body)
	if err != nil {
		if errors.Is(err, logstore.ErrStreamTerminal) {
			writeError(w, http.StatusConflict, "Stream already terminal")
			return
		}
		log.Error().Err(err).Str("stream_id", id).Msg("ingest failed")
		writeError(w, http.StatusInternalServerError, "Ingest failed")
		return
	}

	if res.Status == logstore.StatusCompleted {
		s.archiver.ArchiveCompleted(r.Context(), id, logstore.Metadata{
			Status:      res.Status,
			TotalTokens: res.TotalTokens,
			CompletedAt: time.Now().UnixMilli(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"entries":     res.Entries,
		"totalTokens": res.TotalTokens,
		"status":      res.Status,
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if !s.backendReady(w) {
		return
	}
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}

	if !s.streamExists(w, r, id) {
		return
	}

	var body struct {
		TotalTokens int `json:"totalTokens"`
	}
	// Body is optional.
	json.NewDecoder(r.Body).Decode(&body)

	meta := logstore.Metadata{
		Status:      logstore.StatusCompleted,
		TotalTokens: body.TotalTokens,
		CompletedAt: time.Now().UnixMilli(),
	}
	if err := s.store.SetStatus(r.Context(), id, meta); err != nil {
		log.Error().Err(err).Str("stream_id", id).Msg("complete failed")
		writeError(w, http.StatusInternalServerError, "Failed to complete stream")
		return
	}

	s.archiver.ArchiveCompleted(r.Context(), id, meta)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(meta.Status)})
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	if !s.backendReady(w) {
		return
	}
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}

	if !s.streamExists(w, r, id) {
		return
	}

	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Error == "" {
		body.Error = "Stream failed"
	}

	meta := logstore.Metadata{Status: logstore.StatusError, Error: body.Error}
	if err := s.store.SetStatus(r.Context(), id, meta); err != nil {
		log.Error().Err(err).Str("stream_id", id).Msg("fail failed")
		writeError(w, http.StatusInternalServerError, "Failed to fail stream")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(meta.Status)})
}
