package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/forgestack/auth-api/internal/application"
	"github.com/forgestack/auth-api/internal/domain/entity"
	repo "github.com/forgestack/auth-api/internal/domain/repository"
	"github.com/forgestack/auth-api/internal/interface/middleware"
	"github.com/forgestack/auth-api/pkg/helpers"
	"github.com/forgestack/auth-api/pkg/validation"
)

// memStore is a map-backed UserRepository with the store's contract:
// duplicate detection over normalized emails, conditional password updates
// and single-shot reset-token redemption.
type memStore struct {
	mu    sync.Mutex
	users map[string]*entity.User
	seq   int
}

func newMemStore() *memStore { return &memStore{users: make(map[string]*entity.User)} }

func (m *memStore) strip(u *entity.User, withSecret bool) *entity.User {
	c := *u
	if !withSecret {
		c.Password = ""
	}
	return &c
}

func (m *memStore) Create(ctx context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.users {
		if ex.Email == u.Email {
			return repo.ErrDuplicateEmail
		}
	}
	m.seq++
	u.ID = fmt.Sprintf("user-%d", m.seq)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = m.strip(u, true)
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string, withSecret bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return m.strip(u, withSecret), nil
}

func (m *memStore) GetByEmail(ctx context.Context, email string, withSecret bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return m.strip(u, withSecret), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) UpdateProfile(ctx context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.users[u.ID]
	if !ok {
		return repo.ErrNotFound
	}
	for id, other := range m.users {
		if id != u.ID && other.Email == u.Email {
			return repo.ErrDuplicateEmail
		}
	}
	ex.Name = u.Name
	ex.Email = u.Email
	ex.AvatarURL = u.AvatarURL
	return nil
}

func (m *memStore) UpdatePassword(ctx context.Context, id, oldHash, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Password != oldHash {
		return repo.ErrNotFound
	}
	u.Password = newHash
	return nil
}

func (m *memStore) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	exp := expiresAt
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpiresAt = &exp
	return nil
}

func (m *memStore) ClearResetToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
	return nil
}

func (m *memStore) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newHash string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash && u.ResetTokenExpiresAt.After(now) {
			u.Password = newHash
			u.ResetTokenHash = nil
			u.ResetTokenExpiresAt = nil
			return m.strip(u, false), nil
		}
	}
	return nil, repo.ErrNotFound
}

var _ repo.UserRepository = (*memStore)(nil)

type capturingNotifier struct {
	mu   sync.Mutex
	html []string
	fail bool
}

func (n *capturingNotifier) Send(ctx context.Context, to, subject, html string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("delivery failed")
	}
	n.html = append(n.html, html)
	return nil
}

const handlerResetURL = "https://app.example.com/reset-password"

var initValidation sync.Once

func newTestServer() (*gin.Engine, *memStore, *capturingNotifier) {
	gin.SetMode(gin.TestMode)
	initValidation.Do(validation.Init)

	store := newMemStore()
	notifier := &capturingNotifier{}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := application.NewService(store, helpers.NewJWTManager("test-secret", time.Hour), notifier, logger, nil, "", nil, "", 10*time.Minute, handlerResetURL)

	auth := NewAuthHandler(svc, logger)

	r := gin.New()
	api := r.Group("/api/auth")
	api.POST("/register", auth.Register)
	api.POST("/login", auth.Login)
	api.POST("/forgot-password", auth.ForgotPassword)
	api.PUT("/reset-password/:token", auth.ResetPassword)

	protected := api.Group("")
	protected.Use(middleware.Auth(store, svc.JWT))
	protected.GET("/me", auth.Me)
	protected.PUT("/profile", auth.UpdateProfile)
	protected.PUT("/change-password", auth.ChangePassword)

	return r, store, notifier
}

type envelope struct {
	Status  int               `json:"status"`
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Error   map[string]string `json:"error"`
}

func doJSON(r *gin.Engine, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

type sessionData struct {
	Token string `json:"token"`
	User  struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
}

func registerUser(t *testing.T, r *gin.Engine, name, email, password string) sessionData {
	t.Helper()
	w, env := doJSON(r, http.MethodPost, "/api/auth/register", gin.H{
		"name": name, "email": email, "password": password,
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", w.Code, w.Body)
	}
	var data sessionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	if data.Token == "" || data.User.ID == "" {
		t.Fatalf("incomplete register payload: %s", env.Data)
	}
	return data
}

func TestRegisterEndpoint(t *testing.T) {
	r, _, _ := newTestServer()

	data := registerUser(t, r, "Alice", "Alice@Example.com", "longpassword")
	if data.User.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", data.User.Email)
	}

	// No credential material in the response body.
	w, _ := doJSON(r, http.MethodPost, "/api/auth/register", gin.H{
		"name": "Bob", "email": "bob@example.com", "password": "longpassword",
	}, "")
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("response leaks a password field: %s", w.Body)
	}
}

func TestRegisterEndpoint_Validation(t *testing.T) {
	r, _, _ := newTestServer()

	w, env := doJSON(r, http.MethodPost, "/api/auth/register", gin.H{
		"name": "Alice", "email": "alice@example.com", "password": "short",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if env.Error["password"] == "" {
		t.Fatalf("expected a password field error, got %v", env.Error)
	}

	w, env = doJSON(r, http.MethodPost, "/api/auth/register", gin.H{
		"name": "Alice", "email": "not-an-email", "password": "longpassword",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if env.Error["email"] == "" {
		t.Fatalf("expected an email field error, got %v", env.Error)
	}
}

func TestRegisterEndpoint_DuplicateEmail(t *testing.T) {
	r, _, _ := newTestServer()

	registerUser(t, r, "Alice", "alice@example.com", "longpassword")
	w, _ := doJSON(r, http.MethodPost, "/api/auth/register", gin.H{
		"name": "Imposter", "email": "ALICE@example.com", "password": "otherpassword",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	r, _, _ := newTestServer()
	registerUser(t, r, "Alice", "alice@example.com", "longpassword")

	w, env := doJSON(r, http.MethodPost, "/api/auth/login", gin.H{
		"email": "alice@example.com", "password": "longpassword",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var data sessionData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("expected a session token: %s", env.Data)
	}

	// Unknown email and wrong password are indistinguishable.
	wUnknown, envUnknown := doJSON(r, http.MethodPost, "/api/auth/login", gin.H{
		"email": "nobody@example.com", "password": "longpassword",
	}, "")
	wWrong, envWrong := doJSON(r, http.MethodPost, "/api/auth/login", gin.H{
		"email": "alice@example.com", "password": "not-the-password",
	}, "")
	if wUnknown.Code != http.StatusUnauthorized || wWrong.Code != http.StatusUnauthorized {
		t.Fatalf("statuses %d/%d, want 401/401", wUnknown.Code, wWrong.Code)
	}
	if envUnknown.Message != envWrong.Message {
		t.Fatalf("messages differ: %q vs %q", envUnknown.Message, envWrong.Message)
	}
}

func TestMeEndpoint(t *testing.T) {
	r, _, _ := newTestServer()
	sess := registerUser(t, r, "Alice", "alice@example.com", "longpassword")

	w, env := doJSON(r, http.MethodGet, "/api/auth/me", nil, sess.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var profile struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.ID != sess.User.ID || profile.Email != "alice@example.com" {
		t.Fatalf("unexpected profile: %s", env.Data)
	}

	if w, _ := doJSON(r, http.MethodGet, "/api/auth/me", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d, want 401", w.Code)
	}
}

func TestUpdateProfileEndpoint(t *testing.T) {
	r, _, _ := newTestServer()
	sess := registerUser(t, r, "Alice", "alice@example.com", "longpassword")
	registerUser(t, r, "Bob", "bob@example.com", "longpassword")

	w, env := doJSON(r, http.MethodPut, "/api/auth/profile", gin.H{
		"name": "Alice B.", "email": "alice.b@example.com",
	}, sess.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var profile struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Name != "Alice B." || profile.Email != "alice.b@example.com" {
		t.Fatalf("unexpected profile: %s", env.Data)
	}

	w, _ = doJSON(r, http.MethodPut, "/api/auth/profile", gin.H{"email": "bob@example.com"}, sess.Token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate email status %d, want 400", w.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	r, _, _ := newTestServer()
	sess := registerUser(t, r, "Alice", "alice@example.com", "oldpassword1")

	w, _ := doJSON(r, http.MethodPut, "/api/auth/change-password", gin.H{
		"current_password": "not-the-password", "new_password": "newpassword1",
	}, sess.Token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password status %d, want 401", w.Code)
	}

	w, _ = doJSON(r, http.MethodPut, "/api/auth/change-password", gin.H{
		"current_password": "oldpassword1", "new_password": "newpassword1",
	}, sess.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	w, _ = doJSON(r, http.MethodPost, "/api/auth/login", gin.H{
		"email": "alice@example.com", "password": "newpassword1",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login with new password status %d: %s", w.Code, w.Body)
	}
}

func TestForgotPasswordEndpoint_UnknownEmailStill200(t *testing.T) {
	r, _, n := newTestServer()

	w, _ := doJSON(r, http.MethodPost, "/api/auth/forgot-password", gin.H{
		"email": "nobody@example.com",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
	if len(n.html) != 0 {
		t.Fatal("no email should be sent for an unknown address")
	}
}

func TestForgotPasswordEndpoint_DeliveryFailure(t *testing.T) {
	r, _, n := newTestServer()
	registerUser(t, r, "Alice", "alice@example.com", "longpassword")
	n.fail = true

	w, _ := doJSON(r, http.MethodPost, "/api/auth/forgot-password", gin.H{
		"email": "alice@example.com",
	}, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", w.Code)
	}
}

func resetTokenFromEmail(t *testing.T, html string) string {
	t.Helper()
	prefix := handlerResetURL + "/"
	i := strings.Index(html, prefix)
	if i < 0 {
		t.Fatalf("email has no reset link: %q", html)
	}
	rest := html[i+len(prefix):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func TestResetPasswordEndpoint(t *testing.T) {
	r, _, n := newTestServer()
	registerUser(t, r, "Alice", "alice@example.com", "longpassword")

	w, _ := doJSON(r, http.MethodPost, "/api/auth/forgot-password", gin.H{
		"email": "alice@example.com",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("forgot status %d: %s", w.Code, w.Body)
	}
	if len(n.html) != 1 {
		t.Fatalf("expected one email, got %d", len(n.html))
	}
	token := resetTokenFromEmail(t, n.html[0])

	w, env := doJSON(r, http.MethodPut, "/api/auth/reset-password/"+token, gin.H{
		"password": "brandnewpassword",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset status %d: %s", w.Code, w.Body)
	}
	var data sessionData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("reset should issue a session token: %s", env.Data)
	}

	w, _ = doJSON(r, http.MethodPost, "/api/auth/login", gin.H{
		"email": "alice@example.com", "password": "brandnewpassword",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login with reset password status %d", w.Code)
	}

	// The token is single use.
	w, _ = doJSON(r, http.MethodPut, "/api/auth/reset-password/"+token, gin.H{
		"password": "anotherpassword",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("token reuse status %d, want 400", w.Code)
	}
}

func TestResetPasswordEndpoint_BadToken(t *testing.T) {
	r, _, _ := newTestServer()

	w, _ := doJSON(r, http.MethodPut, "/api/auth/reset-password/deadbeef", gin.H{
		"password": "brandnewpassword",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}

	// Weak replacement passwords are rejected before any token lookup.
	w, env := doJSON(r, http.MethodPut, "/api/auth/reset-password/deadbeef", gin.H{
		"password": "short",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if env.Error["password"] == "" {
		t.Fatalf("expected a password field error, got %v", env.Error)
	}
}
