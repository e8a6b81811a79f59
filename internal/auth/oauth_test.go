package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
)

func TestCallbackDeliversCodeAndRedirects(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	req := httptest.NewRequest(http.MethodGet, "/?code=auth_code&state=state_abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/success", rec.Header().Get("Location"))

	result := <-resultCh
	require.NoError(t, result.err)
	assert.Equal(t, "auth_code", result.code)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	req := httptest.NewRequest(http.MethodGet, "/?code=auth_code&state=forged", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	result := <-resultCh
	require.Error(t, result.err)
	assert.Contains(t, result.err.Error(), "invalid state")
	assert.Empty(t, result.code)
}

func TestCallbackPropagatesErrorParam(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	req := httptest.NewRequest(http.MethodGet, "/?error=access_denied&error_description=user+cancelled", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	result := <-resultCh
	require.Error(t, result.err)
	assert.Contains(t, result.err.Error(), "access_denied")
	assert.Contains(t, result.err.Error(), "user cancelled")
}

func TestCallbackRejectsMissingCode(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	req := httptest.NewRequest(http.MethodGet, "/?state=state_abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	result := <-resultCh
	require.Error(t, result.err)
	assert.Contains(t, result.err.Error(), "invalid authorization code")
}

func TestCallbackRejectsNonGet(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	req := httptest.NewRequest(http.MethodPost, "/?code=auth_code&state=state_abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	result := <-resultCh
	require.Error(t, result.err)
}

func TestCallbackFirstResultWins(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	for _, target := range []string{
		"/?code=first&state=state_abc",
		"/?code=second&state=state_abc",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	result := <-resultCh
	require.NoError(t, result.err)
	assert.Equal(t, "first", result.code)
}

func TestCallbackServesSuccessPage(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/success", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication successful")
	select {
	case <-resultCh:
		t.Fatal("success page must not deliver a result")
	default:
	}
}

func TestCallbackCORSHeaders(t *testing.T) {
	resultCh := make(chan callbackResult, 1)
	handler := callbackHandler("state_abc", resultCh)

	req := httptest.NewRequest(http.MethodGet, "/success", nil)
	req.Header.Set("Origin", "http://dashboard.fauna.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://dashboard.fauna.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/success", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGenerateStateIsUniqueAndURLSafe(t *testing.T) {
	a, b := generateState(), generateState()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "=")
}

// TestFlowEndToEnd drives the whole exchange against a fake account API.
// The authorize handler plays the browser: it follows the redirect_uri it
// was given, delivering the code back to the flow's listener.
func TestFlowEndToEnd(t *testing.T) {
	var mux http.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()

	mux.HandleFunc("/api/v1/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "create_session", q.Get("scope"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))
		require.NotEmpty(t, q.Get("state"))
		require.NotEmpty(t, q.Get("redirect_uri"))

		// Simulate the user completing login in the dashboard.
		go func() {
			callback := q.Get("redirect_uri") + "/?" + url.Values{
				"code":  {"auth_code_123"},
				"state": {q.Get("state")},
			}.Encode()
			resp, err := http.Get(callback) //nolint:noctx
			if err == nil {
				resp.Body.Close()
			}
		}()

		w.Header().Set("Location", server.URL+"/login?session=abc")
		w.WriteHeader(http.StatusFound)
	})

	mux.HandleFunc("/api/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "auth_code_123", r.Form.Get("code"))
		assert.NotEmpty(t, r.Form.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access_456",
			"token_type":   "Bearer",
		})
	})

	cfg := config.Default()
	cfg.AccountURL = server.URL

	flow := NewFlow(cfg, api.NewClient(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var messages []string
	token, err := flow.Run(ctx, LoginOptions{
		NoBrowser: true,
		Log:       func(msg string) { messages = append(messages, msg) },
	})
	require.NoError(t, err)
	assert.Equal(t, "access_456", token)
	assert.True(t, strings.Contains(strings.Join(messages, "\n"), server.URL+"/login"))
}

func TestFlowContextCancellation(t *testing.T) {
	var mux http.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()

	mux.HandleFunc("/api/v1/oauth/authorize", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", server.URL+"/login?session=abc")
		w.WriteHeader(http.StatusFound)
	})

	cfg := config.Default()
	cfg.AccountURL = server.URL
	flow := NewFlow(cfg, api.NewClient(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := flow.Run(ctx, LoginOptions{NoBrowser: true})
	require.ErrorIs(t, err, context.Canceled)
}
