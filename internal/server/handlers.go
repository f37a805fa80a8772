package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prismnews/research-engine/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, user, err := s.auth.Login(r.Context(), req.Email)
	if err != nil {
		respondError(w, http.StatusBadRequest, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token": session.Token,
		"user":  user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.orch.CreateRequest(r.Context(), userID(r.Context()), req.URL, req.Title)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"request":              out.Request,
		"followupQuestions":    questionsOrEmpty(out.FollowupQuestions),
		"estimatedTimeSeconds": out.EstimatedSeconds,
	})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.orch.ListRequests(r.Context(), userID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if requests == nil {
		requests = []model.ResearchRequest{}
	}
	respondJSON(w, http.StatusOK, requests)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	detail, err := s.orch.GetRequest(r.Context(), chi.URLParam(r, "id"), userID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"request":           detail.Request,
		"followupQuestions": questionsOrEmpty(detail.FollowupQuestions),
		"result":            detail.Result,
	})
}

func (s *Server) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	estimate, err := s.orch.StartResearch(r.Context(), chi.URLParam(r, "id"), userID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"message":              "research started",
		"estimatedTimeSeconds": estimate,
	})
}

func (s *Server) handleAnswerFollowup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	question, err := s.orch.AnswerFollowup(r.Context(), chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, question)
}

func questionsOrEmpty(questions []model.FollowupQuestion) []model.FollowupQuestion {
	if questions == nil {
		return []model.FollowupQuestion{}
	}
	return questions
}
