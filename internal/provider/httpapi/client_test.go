package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(models.ProviderBrokerage, srv.URL+"/api/v1", time.Second,
		WithHTTPClient(srv.Client()),
		WithErrorCodes(map[string]provider.Kind{"USER_NOT_REGISTERED": provider.KindNotRegistered}))
	require.NoError(t, err)
	return c
}

func TestDoDecodesJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		assert.Equal(t, "abc", r.Header.Get("X-Client-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"acct-1"}]`))
	})

	var out []struct {
		Id string `json:"id"`
	}
	err := c.Do(context.Background(), Request{
		Op:     "list_accounts",
		Method: http.MethodGet,
		Path:   "/accounts",
		Query:  map[string][]string{"userId": {"u1"}},
		Header: http.Header{"X-Client-Id": {"abc"}},
	}, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "acct-1", out[0].Id)
}

func TestDoClassifiesErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantKind   provider.Kind
		wantCode   string
	}{
		{"rate limited with hint", http.StatusTooManyRequests, `{"message":"slow down"}`, "12", provider.KindRateLimited, ""},
		{"provider code", http.StatusBadRequest, `{"code":"USER_NOT_REGISTERED","detail":"register first"}`, "", provider.KindNotRegistered, "USER_NOT_REGISTERED"},
		{"nested error", http.StatusUnauthorized, `{"error":{"code":"enrollment.disconnected","message":"reconnect"}}`, "", provider.KindAuthExpired, "enrollment.disconnected"},
		{"upstream outage", http.StatusServiceUnavailable, `oops`, "", provider.KindTransient, ""},
		{"not found on read", http.StatusNotFound, ``, "", provider.KindUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := c.Do(context.Background(), Request{Op: "fetch", Method: http.MethodGet, Path: "/x"}, nil)
			require.Error(t, err)

			var perr *provider.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.wantCode, perr.Code)
			assert.Equal(t, models.ProviderBrokerage, perr.Provider)
			if tt.retryAfter != "" {
				assert.Equal(t, 12*time.Second, perr.RetryAfter)
			}
		})
	}
}

func TestRemovalNotFoundIsAlreadyGone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.Do(context.Background(), Request{Op: "delete_user", Method: http.MethodDelete, Path: "/users", Removal: true}, nil)
	assert.True(t, provider.IsAlreadyGone(err))

	err = c.Do(context.Background(), Request{Op: "list_accounts", Method: http.MethodGet, Path: "/accounts"}, nil)
	assert.False(t, provider.IsAlreadyGone(err))
	assert.Equal(t, provider.KindUnknown, provider.KindOf(err))
}

func TestDoSendsJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.Do(context.Background(), Request{
		Op: "register", Method: http.MethodPost, Path: "/users", Body: map[string]string{"userId": "u1"},
	}, &struct{}{})
	require.NoError(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(models.ProviderBanking, "not a url", time.Second)
	require.Error(t, err)
}
