package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type videoProcessRequest struct {
	VideoURL string `json:"videoURL"`
}

type queueResponse struct {
	Queue     string     `json:"queue"`
	Counts    job.Counts `json:"counts"`
	Total     int64      `json:"total"`
	Processed int64      `json:"processed"`
	Failed    int64      `json:"failed"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVideoProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.NewValidationError(errors.ValidationDetail{
			Field:   "body",
			Message: err.Error(),
		}))
		return
	}

	if err := validateVideoProcess(body); err != nil {
		writeError(w, err)
		return
	}

	var req videoProcessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.NewValidationError(errors.ValidationDetail{
			Field:   "body",
			Message: err.Error(),
		}))
		return
	}

	id, err := s.deps.Videos.SubmitVideo(r.Context(), req.VideoURL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "enqueued",
		"jobId":  id,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	flags, err := s.deps.State.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]bool{"state": flags})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := s.deps.Books.List(r.Context(), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleBooksTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.deps.Pages.TotalPageCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"totalPageCount": total})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	counts, err := s.deps.Broker.Counts(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := queueResponse{
		Queue:  name,
		Counts: counts,
		Total:  counts.Total(),
	}
	if s.deps.Stats != nil {
		stats, err := s.deps.Stats.GetQueueStats(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Processed = stats.Processed
		resp.Failed = stats.Failed
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Broker.GetJob(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Health))
	for name, checker := range s.deps.Health {
		if err := checker.Health(); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.NewValidationError(errors.ValidationDetail{
			Field:   name,
			Message: "must be a positive integer",
			Value:   raw,
		})
	}
	return n, nil
}
