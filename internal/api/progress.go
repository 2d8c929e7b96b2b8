package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CompleteLessonRequest is the JSON body for POST /progress/lessons/complete.
type CompleteLessonRequest struct {
	UserID   string `json:"user_id"`
	LessonID string `json:"lesson_id"`
	Score    *int   `json:"score"` // defaults to 100
}

// CompleteLesson handles POST /api/v1/progress/lessons/complete
func (s *Service) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	var req CompleteLessonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	score := 100
	if req.Score != nil {
		score = *req.Score
	}

	c, err := s.progress.CompleteLesson(r.Context(), req.UserID, req.LessonID, score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetProgress handles GET /api/v1/progress/{userID}
func (s *Service) GetProgress(w http.ResponseWriter, r *http.Request) {
	summary, err := s.progress.Summary(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
