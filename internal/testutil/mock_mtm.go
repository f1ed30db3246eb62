// Package testutil provides an in-memory MTM API server for tests.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Defaults accepted and issued by MockMTM.
const (
	APIToken    = "test-api-token"
	BearerToken = "test-bearer-token"
)

// User mirrors the MTM user listing item.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// MockMTM is a configurable fake of the MTM administration API.
type MockMTM struct {
	server *httptest.Server
	mux    *http.ServeMux

	mu          sync.Mutex
	overrides   map[string]http.HandlerFunc
	users       map[string][]User   // accountID -> users
	permissions map[string][]string // workspaceID -> user IDs
	failDeletes map[string]int      // userID -> status to answer with

	// DeleteDelay is applied to every DELETE before answering.
	DeleteDelay time.Duration

	// Tracking
	TokenRequests  int
	PageRequests   map[string]int // path -> count
	DeleteCalls    map[string]int // userID -> count
	deleteInFlight int
	MaxInFlight    int
	DeleteStarts   []time.Time
}

// NewMockMTM starts a new mock server.
func NewMockMTM() *MockMTM {
	m := &MockMTM{
		mux:          http.NewServeMux(),
		overrides:    make(map[string]http.HandlerFunc),
		users:        make(map[string][]User),
		permissions:  make(map[string][]string),
		failDeletes:  make(map[string]int),
		PageRequests: make(map[string]int),
		DeleteCalls:  make(map[string]int),
	}

	m.mux.HandleFunc("POST /services/mtm/v1/oauth2/token", m.handleToken)
	m.mux.HandleFunc("GET /services/mtm/v1/accounts/{accountId}/users", m.authorized(m.handleUsers))
	m.mux.HandleFunc("GET /services/mtm/v1/permissions", m.authorized(m.handlePermissions))
	m.mux.HandleFunc("DELETE /services/mtm/v1/users/{userId}", m.authorized(m.handleDelete))

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		override, ok := m.overrides[r.URL.Path]
		m.mu.Unlock()
		if ok {
			override(w, r)
			return
		}
		m.mux.ServeHTTP(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockMTM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockMTM) Close() {
	m.server.Close()
}

// SetHandler replaces the handler for an exact path.
func (m *MockMTM) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[path] = handler
}

// AddUsers appends users to an account.
func (m *MockMTM) AddUsers(accountID string, users ...User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[accountID] = append(m.users[accountID], users...)
}

// GenerateUsers adds n users u0000..u{n-1} with matching emails and returns their IDs.
func (m *MockMTM) GenerateUsers(accountID string, n int) []string {
	ids := make([]string, 0, n)
	users := make([]User, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("u%04d", i)
		ids = append(ids, id)
		users = append(users, User{ID: id, Email: fmt.Sprintf("user%04d@example.com", i)})
	}
	m.AddUsers(accountID, users...)
	return ids
}

// Grant gives users a permission on a workspace.
func (m *MockMTM) Grant(workspaceID string, userIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[workspaceID] = append(m.permissions[workspaceID], userIDs...)
}

// FailDelete makes DELETE for userID answer with status.
func (m *MockMTM) FailDelete(userID string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeletes[userID] = status
}

// Users returns the current users of an account.
func (m *MockMTM) Users(accountID string) []User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]User(nil), m.users[accountID]...)
}

// GetDeleteCalls returns a copy of the per-user DELETE counts.
func (m *MockMTM) GetDeleteCalls() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.DeleteCalls))
	for k, v := range m.DeleteCalls {
		out[k] = v
	}
	return out
}

// GetTokenRequests returns the number of token exchanges.
func (m *MockMTM) GetTokenRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TokenRequests
}

// GetPageRequests returns the number of listing requests for a path.
func (m *MockMTM) GetPageRequests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PageRequests[path]
}

// GetMaxInFlight returns the highest number of concurrent DELETEs seen.
func (m *MockMTM) GetMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxInFlight
}

// GetDeleteStarts returns the arrival times of DELETE requests in order.
func (m *MockMTM) GetDeleteStarts() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]time.Time(nil), m.DeleteStarts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (m *MockMTM) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequests++
	m.mu.Unlock()

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("apitoken:"+APIToken))
	if r.Header.Get("Authorization") != want {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": BearerToken,
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (m *MockMTM) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+BearerToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (m *MockMTM) handleUsers(w http.ResponseWriter, r *http.Request) {
	page, size, ok := parsePage(w, r)
	if !ok {
		return
	}

	m.mu.Lock()
	m.PageRequests[r.URL.Path]++
	users := append([]User(nil), m.users[r.PathValue("accountId")]...)
	m.mu.Unlock()

	if r.URL.Query().Get("sort") == "email-asc" {
		sort.SliceStable(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"errors": []any{},
		"status": "OK",
		"total":  len(users),
		"type":   "user",
		"data":   window(users, page, size),
	})
}

func (m *MockMTM) handlePermissions(w http.ResponseWriter, r *http.Request) {
	page, size, ok := parsePage(w, r)
	if !ok {
		return
	}

	m.mu.Lock()
	m.PageRequests[r.URL.Path]++
	ids := append([]string(nil), m.permissions[r.URL.Query().Get("workspaceId")]...)
	m.mu.Unlock()

	type holder struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	perms := make([]holder, len(ids))
	for i, id := range ids {
		perms[i].User.ID = id
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"errors": []any{},
		"status": "OK",
		"total":  len(perms),
		"type":   "permission",
		"data":   window(perms, page, size),
	})
}

func (m *MockMTM) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("userId")

	m.mu.Lock()
	m.DeleteCalls[id]++
	m.DeleteStarts = append(m.DeleteStarts, time.Now())
	m.deleteInFlight++
	if m.deleteInFlight > m.MaxInFlight {
		m.MaxInFlight = m.deleteInFlight
	}
	delay := m.DeleteDelay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.deleteInFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if status, ok := m.failDeletes[id]; ok {
		writeJSON(w, status, map[string]string{"error": "delete failed"})
		return
	}

	for account, users := range m.users {
		for i, u := range users {
			if u.ID == id {
				m.users[account] = append(users[:i:i], users[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
}

func parsePage(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page"})
		return 0, 0, false
	}
	size, err = strconv.Atoi(q.Get("size"))
	if err != nil || size < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid size"})
		return 0, 0, false
	}
	return page, size, true
}

func window[T any](items []T, page, size int) []T {
	lo := (page - 1) * size
	if lo >= len(items) {
		return []T{}
	}
	hi := lo + size
	if hi > len(items) {
		hi = len(items)
	}
	return items[lo:hi]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
