package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"
	"unified-portfolio-go/internal/trading"

	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	RequestId  string   `json:"request_id,omitempty"`
	Reconnect  bool     `json:"reconnect,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

func setResponse(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

// setErrorResponse maps err onto a status code and a classified body.
func setErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := classify(err)
	if rc := models.GetRequestContext(r.Context()); rc != nil {
		resp.RequestId = rc.RequestId
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestId),
			zap.Error(err))
	}

	if retryAfter := provider.RetryAfterOf(err); status == http.StatusTooManyRequests && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	setResponse(w, status, resp)
}

func classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Message: err.Error()}

	var verr *trading.ValidationError
	if errors.As(err, &verr) {
		resp.Violations = verr.Violations
	}

	switch {
	case errors.Is(err, store.ErrSubmissionInFlight):
		resp.Error = "SUBMISSION_IN_FLIGHT"
		return http.StatusConflict, resp
	case errors.Is(err, trading.ErrInvalidTransition):
		resp.Error = "INVALID_STATE"
		return http.StatusConflict, resp
	case errors.Is(err, store.ErrNotFound):
		resp.Error = "NOT_FOUND"
		return http.StatusNotFound, resp
	case errors.Is(err, provider.ErrUnsupportedProvider):
		resp.Error = "UNSUPPORTED_PROVIDER"
		return http.StatusBadRequest, resp
	}

	var perr *provider.Error
	if errors.As(err, &perr) && perr.Kind == provider.KindUnknown && perr.Status == http.StatusNotFound {
		resp.Error = "NOT_FOUND"
		return http.StatusNotFound, resp
	}

	kind := provider.KindOf(err)
	resp.Error = string(kind)
	switch kind {
	case provider.KindValidation:
		return http.StatusBadRequest, resp
	case provider.KindNotRegistered:
		return http.StatusPreconditionRequired, resp
	case provider.KindAuthExpired:
		resp.Reconnect = true
		return http.StatusUnauthorized, resp
	case provider.KindRateLimited:
		return http.StatusTooManyRequests, resp
	case provider.KindTransient:
		return http.StatusServiceUnavailable, resp
	case provider.KindAlreadyGone:
		resp.Error = "NOT_FOUND"
		return http.StatusNotFound, resp
	default:
		resp.Error = string(provider.KindUnknown)
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	}
}

func badRequest(message string) error {
	return provider.NewError(provider.KindValidation, message)
}
