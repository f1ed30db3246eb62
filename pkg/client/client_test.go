package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken struct {
	token string
	err   error
}

func (s staticToken) Token(context.Context) (string, error) { return s.token, s.err }

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens TokenSource) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, UserAgent: "test/1.0", Timeout: 5 * time.Second}, tokens)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		tokens   TokenSource
		errorMsg string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("tenant.example.com"),
			tokens: staticToken{token: "x"},
		},
		{
			name:     "nil token source",
			config:   DefaultConfig("tenant.example.com"),
			errorMsg: "token source is required",
		},
		{
			name:     "empty base url",
			config:   Config{},
			tokens:   staticToken{token: "x"},
			errorMsg: "base url is required",
		},
		{
			name:     "relative base url",
			config:   Config{BaseURL: "tenant.example.com"},
			tokens:   staticToken{token: "x"},
			errorMsg: `base url must be absolute (got "tenant.example.com")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config, tt.tokens)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errorMsg, err.Error())
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestBaseURLForHost(t *testing.T) {
	assert.Equal(t, "https://tenant.example.com", BaseURLForHost("tenant.example.com"))
	assert.Equal(t, "https://tenant.example.com", BaseURLForHost("tenant.example.com/"))
	assert.Equal(t, "http://127.0.0.1:8080", BaseURLForHost("http://127.0.0.1:8080/"))
}

func TestClient_URL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://h/prefix/"}, staticToken{token: "x"})
	require.NoError(t, err)

	got := c.URL("/services/mtm/v1/permissions", url.Values{"workspaceId": {"w1"}, "page": {"2"}})
	assert.Equal(t, "https://h/prefix/services/mtm/v1/permissions?page=2&workspaceId=w1", got)

	assert.Equal(t, "https://h/prefix/users/acc%2F1", c.URL("/users/acc%2F1", nil))
}

func TestClient_GetJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total":7}`))
	}, staticToken{token: "tok"})

	var out struct {
		Total int `json:"total"`
	}
	err := c.GetJSON(context.Background(), "test", "/x", url.Values{"page": {"3"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Total)
}

func TestClient_GetJSON_DecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}, staticToken{token: "tok"})

	var out map[string]any
	err := c.GetJSON(context.Background(), "test", "/x", nil, &out)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorClassDecode, apiErr.ErrorClass)
}

func TestClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  ErrorClass
		msg    string
	}{
		{name: "not found", status: 404, body: `{"error":"no such user"}`, class: ErrorClassClient, msg: `{"error":"no such user"}`},
		{name: "throttled", status: 429, class: ErrorClassRateLimit, msg: "429 Too Many Requests"},
		{name: "server", status: 503, body: "down", class: ErrorClassServer, msg: "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, staticToken{token: "tok"})

			err := c.Delete(context.Background(), "users.delete", "/users/u1")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.class, apiErr.ErrorClass)
			assert.Equal(t, tt.msg, apiErr.Message)
			assert.Equal(t, http.MethodDelete, apiErr.Method)
		})
	}
}

func TestClient_Delete(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}, staticToken{token: "tok"})

	require.NoError(t, c.Delete(context.Background(), "users.delete", "/services/mtm/v1/users/u1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/services/mtm/v1/users/u1", gotPath)
}

func TestClient_TokenErrors(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) { called = true }

	tokenErr := errors.New("exchange failed")
	c := newTestClient(t, handler, staticToken{err: tokenErr})
	err := c.Delete(context.Background(), "users.delete", "/users/u1")
	require.ErrorIs(t, err, tokenErr)

	c = newTestClient(t, handler, staticToken{})
	err = c.Delete(context.Background(), "users.delete", "/users/u1")
	require.ErrorIs(t, err, ErrNoToken)

	assert.False(t, called, "no request should reach the server without a token")
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base, Timeout: time.Second}, staticToken{token: "tok"})
	require.NoError(t, err)

	err = c.Delete(context.Background(), "users.delete", "/users/u1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorClassNetwork, apiErr.ErrorClass)
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, staticToken{token: "tok"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Delete(ctx, "users.delete", "/users/u1")
	require.Error(t, err)
	assert.True(t, IsContextError(err))
}
