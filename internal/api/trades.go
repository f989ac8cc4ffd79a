package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"unified-portfolio-go/internal/models"

	"github.com/gorilla/mux"
)

const headerIdempotencyKey = "Idempotency-Key"

type placeRequest struct {
	models.OrderRequest
	IdempotencyKey string `json:"idempotencyKey"`
}

type cancelRequest struct {
	AccountId string `json:"accountId"`
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		setErrorResponse(w, r, err)
		return
	}
	req.UserId = callerId(r)

	preview, err := s.trades.Preview(r.Context(), req)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, preview)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeBody(r, &req); err != nil {
		setErrorResponse(w, r, err)
		return
	}

	order := req.OrderRequest
	order.UserId = callerId(r)
	order.IdempotencyKey = strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if order.IdempotencyKey == "" {
		order.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	}

	result, err := s.trades.Place(r.Context(), order)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	w.Header().Set(headerIdempotencyKey, result.IdempotencyKey)
	setResponse(w, status, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			setErrorResponse(w, r, err)
			return
		}
	}
	if req.AccountId == "" {
		req.AccountId = r.URL.Query().Get("accountId")
	}
	if req.AccountId == "" {
		setErrorResponse(w, r, badRequest("accountId is required"))
		return
	}

	result, err := s.trades.Cancel(r.Context(), callerId(r), req.AccountId, mux.Vars(r)["orderId"])
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, result)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	var req models.ReplaceRequest
	if err := decodeBody(r, &req); err != nil {
		setErrorResponse(w, r, err)
		return
	}
	req.UserId = callerId(r)
	req.OrderId = mux.Vars(r)["orderId"]

	result, err := s.trades.Replace(r.Context(), req)
	if err != nil {
		setErrorResponse(w, r, err)
		return
	}
	setResponse(w, http.StatusOK, result)
}
