package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/claude/fitcycle/internal/models"
	"github.com/claude/fitcycle/internal/workout"
)

const defaultHistoryDays = 7

type toggleRequest struct {
	Exercise string `json:"exercise"`
	Day      *int   `json:"day"`
}

type profileRequest struct {
	Gender         string `json:"gender"`
	Level          int    `json:"level"`
	StartDayOfWeek *int   `json:"start_day_of_week"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handleWorkoutToday(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workouts.Snapshot())
}

func (s *Server) handleWorkoutProgress(w http.ResponseWriter, r *http.Request) {
	dayStr := r.URL.Query().Get("day")
	if dayStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day parameter required"})
		return
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid day"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":      day,
		"progress": s.workouts.WorkoutProgress(day),
	})
}

func (s *Server) handleWorkoutHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.workouts.History(days))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	var (
		done bool
		err  error
	)
	if req.Day != nil {
		done, err = s.workouts.ToggleCompletionOn(*req.Day, req.Exercise)
	} else {
		done, err = s.workouts.ToggleCompletion(req.Exercise)
	}
	if errors.Is(err, workout.ErrInvalidDay) || errors.Is(err, workout.ErrEmptyExercise) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.log.Info("exercise toggled", "user", userInfoFromContext(r).Login, "exercise", req.Exercise, "completed", done)
	writeJSON(w, http.StatusOK, map[string]any{
		"exercise":  req.Exercise,
		"completed": done,
		"workout":   s.workouts.Snapshot(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.workouts.Refresh(r.Context())
	writeJSON(w, http.StatusOK, s.workouts.Snapshot())
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	err := s.workouts.UpdateProfile(models.Profile{
		Gender:         req.Gender,
		Level:          req.Level,
		StartDayOfWeek: req.StartDayOfWeek,
	})
	if errors.Is(err, workout.ErrInvalidProfile) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "gender must be male or female, level 1-3, start_day_of_week 0-6"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.workouts.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.workouts.Resume()
	s.steps.Resume(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"workout": s.workouts.Snapshot(),
		"steps":   s.steps.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseDays reads the optional days query parameter.
func parseDays(r *http.Request) (int, error) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return defaultHistoryDays, nil
	}
	days, err := strconv.Atoi(v)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("days must be a positive integer")
	}
	return days, nil
}
