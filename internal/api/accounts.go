package api

import (
	"net/http"

	"unified-portfolio-go/internal/models"

	"github.com/gorilla/mux"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.accounts.ListPortfolio(r.Context(), callerId(r))
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, portfolio)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r, models.ProviderBrokerage)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}

	view, err := s.accounts.GetAccountView(r.Context(), callerId(r), p, mux.Vars(r)["accountId"])
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, view)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("provider") == "" {
		setErrorResponse(w, r, badRequest("provider is required"))
		return
	}
	p, err := providerParam(r, "")
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}

	result, err := s.connections.Disconnect(r.Context(), callerId(r), mux.Vars(r)["accountId"], p)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, result)
}
