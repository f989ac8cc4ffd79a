package api

import (
	"net/http"
	"strings"

	"unified-portfolio-go/internal/models"

	"github.com/google/uuid"
)

const (
	headerUserId    = "X-User-Id"
	headerRequestId = "X-Request-Id"
)

// requestIdMiddleware echoes X-Request-Id or assigns a new one.
func requestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := strings.TrimSpace(r.Header.Get(headerRequestId))
		if requestId == "" {
			requestId = uuid.New().String()
		}
		w.Header().Set(headerRequestId, requestId)

		ctx := models.WithRequestContext(r.Context(), &models.RequestContext{RequestId: requestId})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware requires the caller identity set by the session layer.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId := strings.TrimSpace(r.Header.Get(headerUserId))
		rc := models.GetRequestContext(r.Context())
		if userId == "" {
			resp := ErrorResponse{Error: "UNAUTHENTICATED", Message: "missing " + headerUserId}
			if rc != nil {
				resp.RequestId = rc.RequestId
			}
			setResponse(w, http.StatusUnauthorized, resp)
			return
		}

		if rc == nil {
			rc = &models.RequestContext{}
		}
		ctx := models.WithRequestContext(r.Context(), &models.RequestContext{UserId: userId, RequestId: rc.RequestId})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerId(r *http.Request) string {
	if rc := models.GetRequestContext(r.Context()); rc != nil {
		return rc.UserId
	}
	return ""
}

// providerParam reads ?provider=, falling back to def when absent.
func providerParam(r *http.Request, def models.Provider) (models.Provider, error) {
	raw := r.URL.Query().Get("provider")
	if raw == "" {
		return def, nil
	}
	p, err := models.ParseProvider(raw)
	if err != nil {
		return "", badRequest(err.Error())
	}
	return p, nil
}
