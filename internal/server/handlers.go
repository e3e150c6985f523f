package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/chronicle/internal/engine"
	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

// writeJSON serializes v with the proper content type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

// writeError maps storage sentinels onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrAmbiguousEntity):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type evolveRequest struct {
	Content    string            `json:"content"`
	Source     string            `json:"source,omitempty"`
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	var req evolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	evolve := engine.EvolveRequest{
		Content:  req.Content,
		Source:   req.Source,
		Metadata: req.Metadata,
	}
	if req.OccurredAt != nil {
		evolve.OccurredAt = *req.OccurredAt
	}

	result, err := s.engine.Evolve(r.Context(), evolve)
	if err != nil {
		if result != nil && result.State == types.StateFailed {
			// The interaction is logged; processing failed. The caller can
			// resubmit once the upstream problem clears.
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 10
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	var filters *storage.ItemFilters
	if q.Get("source") != "" || q.Get("after") != "" || q.Get("before") != "" {
		filters = &storage.ItemFilters{Source: q.Get("source")}
		after, err := parseTimeParam(q.Get("after"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "after must be RFC3339"})
			return
		}
		before, err := parseTimeParam(q.Get("before"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "before must be RFC3339"})
			return
		}
		if after != nil {
			filters.After = *after
		}
		if before != nil {
			filters.Before = *before
		}
	}

	results, err := s.engine.Search(r.Context(), engine.SearchOptions{
		Query:   q.Get("q"),
		Limit:   limit,
		Filters: filters,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.Item.ID)
	}
	s.engine.RecordAccess(r.Context(), ids)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type contextRequest struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	assembled, err := s.engine.Assemble(r.Context(), req.Query, req.MaxTokens, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	s.engine.RecordAccess(r.Context(), assembled.ItemIDs)
	writeJSON(w, http.StatusOK, assembled)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	// as_of_event / as_of_system select a historical snapshot.
	if q.Get("as_of_event") != "" || q.Get("as_of_system") != "" {
		asOfEvent, err := parseTimeParam(q.Get("as_of_event"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "as_of_event must be RFC3339"})
			return
		}
		asOfSystem, err := parseTimeParam(q.Get("as_of_system"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "as_of_system must be RFC3339"})
			return
		}
		now := time.Now()
		if asOfEvent == nil {
			asOfEvent = &now
		}
		if asOfSystem == nil {
			asOfSystem = &now
		}

		entity, err := s.engine.ReadEntityAt(r.Context(), id, *asOfEvent, *asOfSystem)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entity)
		return
	}

	entity, err := s.engine.GetEntity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *Server) handleFindEntity(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name parameter is required"})
		return
	}

	entity, err := s.engine.FindEntityByName(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	seedsParam := strings.TrimSpace(q.Get("seeds"))
	if seedsParam == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seeds parameter is required"})
		return
	}
	var seeds []string
	for _, seed := range strings.Split(seedsParam, ",") {
		if seed = strings.TrimSpace(seed); seed != "" {
			seeds = append(seeds, seed)
		}
	}

	var bounds storage.SubgraphBounds
	var err error
	if bounds.MaxHops, err = parseIntParam(q.Get("max_hops")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_hops must be an integer"})
		return
	}
	if bounds.MaxNodes, err = parseIntParam(q.Get("max_nodes")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_nodes must be an integer"})
		return
	}
	if bounds.MaxEdges, err = parseIntParam(q.Get("max_edges")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_edges must be an integer"})
		return
	}

	subgraph, err := s.engine.Subgraph(r.Context(), seeds, bounds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subgraph)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"))
	if err != nil || from == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be RFC3339"})
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil || to == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be RFC3339"})
		return
	}

	items, err := s.engine.Timeline(r.Context(), *from, *to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type importRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "importer is not configured"})
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}

	// The import outlives the request; detach it from the request context.
	jobID, err := s.importer.StartImport(context.WithoutCancel(r.Context()), req.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "importer is not configured"})
		return
	}

	jobID := r.PathValue("job_id")
	progress, ok := s.importer.GetJobProgress(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}

	response := map[string]interface{}{"progress": progress}
	if result := s.importer.GetJobResult(jobID); result != nil {
		response["result"] = result
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{"status": "healthy"}
	if s.cfg != nil && s.cfg.Instance.InstanceName != "" {
		payload["instance"] = s.cfg.Instance.InstanceName
	}
	writeJSON(w, http.StatusOK, payload)
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
