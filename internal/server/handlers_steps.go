package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/claude/fitcycle/internal/models"
	"github.com/claude/fitcycle/internal/steps"
)

type goalRequest struct {
	Goal int `json:"goal"`
}

type readingsRequest struct {
	Count  *int64  `json:"count"`
	Counts []int64 `json:"counts"`
}

type totalRequest struct {
	Date  string `json:"date"`
	Steps int64  `json:"steps"`
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.steps.Snapshot())
}

func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.steps.SetGoal(req.Goal); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, steps.ErrInvalidGoal) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.steps.Snapshot())
}

func (s *Server) handleStepHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.steps.History(days))
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	var req readingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	counts := req.Counts
	if req.Count != nil {
		counts = append([]int64{*req.Count}, counts...)
	}
	if len(counts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count or counts required"})
		return
	}
	for _, c := range counts {
		if c < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "counts must not be negative"})
			return
		}
	}

	subscribers := s.feed.Push(counts...)
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":    len(counts),
		"subscribers": subscribers,
		"steps":       s.steps.Snapshot(),
	})
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	var req totalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.feed.ReportTotal(req.Date, req.Steps); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": req.Date, "steps": req.Steps})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Available == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "available required"})
		return
	}
	s.feed.SetAvailable(*req.Available)
	s.steps.Recheck(r.Context())
	writeJSON(w, http.StatusOK, s.steps.Snapshot())
}

func (s *Server) handleHAEIngest(w http.ResponseWriter, r *http.Request) {
	var payload models.HAEPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	dates, skipped := s.feed.IngestHAE(&payload)
	s.log.Info("hae step totals ingested", "dates", dates, "skipped", skipped)
	writeJSON(w, http.StatusOK, map[string]int{"dates": dates, "skipped": skipped})
}
