package api

import (
	"net/http"

	"unified-portfolio-go/internal/models"

	"github.com/gorilla/mux"
)

func (s *Server) handleCheckSync(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r, models.ProviderBrokerage)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}

	report, err := s.connections.CheckSync(r.Context(), callerId(r), p)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, report)
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r, models.ProviderBrokerage)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}

	result, err := s.connections.ForceSync(r.Context(), callerId(r), p)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, result)
}

type registerResponse struct {
	Provider       models.Provider `json:"provider"`
	ProviderUserId string          `json:"providerUserId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r, models.ProviderBrokerage)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}

	cred, err := s.connections.Register(r.Context(), callerId(r), p)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	// The secret never leaves the server.
	setResponse(w, http.StatusCreated, registerResponse{Provider: p, ProviderUserId: cred.ProviderUserId})
}

func (s *Server) handleCleanupProvider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := models.ParseProvider(vars["provider"])
	if err != nil {
		setErrorResponse(w, r, badRequest(err.Error()))
		return
	}

	result, err := s.connections.CleanupProvider(r.Context(), vars["userId"], p)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, result)
}
