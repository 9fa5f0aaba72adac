package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgestack/auth-api/internal/domain/entity"
	repo "github.com/forgestack/auth-api/internal/domain/repository"
	"github.com/forgestack/auth-api/pkg/helpers"
)

// stubUsers resolves GetByID from a fixed map; everything else is unused by
// the middleware.
type stubUsers struct {
	byID map[string]*entity.User
}

func (s *stubUsers) GetByID(ctx context.Context, id string, withSecret bool) (*entity.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *u
	if !withSecret {
		c.Password = ""
	}
	return &c, nil
}

func (s *stubUsers) Create(ctx context.Context, u *entity.User) error { panic("not used") }
func (s *stubUsers) GetByEmail(ctx context.Context, email string, withSecret bool) (*entity.User, error) {
	panic("not used")
}
func (s *stubUsers) UpdateProfile(ctx context.Context, u *entity.User) error { panic("not used") }
func (s *stubUsers) UpdatePassword(ctx context.Context, id, oldHash, newHash string) error {
	panic("not used")
}
func (s *stubUsers) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	panic("not used")
}
func (s *stubUsers) ClearResetToken(ctx context.Context, id string) error { panic("not used") }
func (s *stubUsers) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newHash string) (*entity.User, error) {
	panic("not used")
}

var _ repo.UserRepository = (*stubUsers)(nil)

func newAuthTestRouter(users repo.UserRepository, jwt *helpers.JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", Auth(users, jwt), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString(CtxUserIDKey),
			"user_name":  c.GetString(CtxUserNameKey),
			"user_email": c.GetString(CtxUserEmailKey),
		})
	})
	return r
}

func doGet(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidToken(t *testing.T) {
	jwt := helpers.NewJWTManager("test-secret", time.Hour)
	users := &stubUsers{byID: map[string]*entity.User{
		"u1": {ID: "u1", Name: "Alice", Email: "alice@example.com"},
	}}
	r := newAuthTestRouter(users, jwt)

	tok, _, err := jwt.Generate("u1")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	w := doGet(r, "Bearer "+tok)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200 (body %s)", w.Code, w.Body)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["user_id"] != "u1" || body["user_name"] != "Alice" || body["user_email"] != "alice@example.com" {
		t.Fatalf("unexpected identity in context: %v", body)
	}
}

func TestAuth_MissingOrMalformedHeader(t *testing.T) {
	jwt := helpers.NewJWTManager("test-secret", time.Hour)
	r := newAuthTestRouter(&stubUsers{byID: map[string]*entity.User{}}, jwt)

	for _, header := range []string{"", "Bearer", "Basic dXNlcjpwYXNz", "bearer-but-no-space"} {
		w := doGet(r, header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status %d, want 401", header, w.Code)
		}
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	jwt := helpers.NewJWTManager("test-secret", time.Hour)
	r := newAuthTestRouter(&stubUsers{byID: map[string]*entity.User{}}, jwt)

	forged, _, err := helpers.NewJWTManager("other-secret", time.Hour).Generate("u1")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	for _, tok := range []string{"not.a.jwt", forged} {
		w := doGet(r, "Bearer "+tok)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status %d, want 401", tok, w.Code)
		}
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	issuer := helpers.NewJWTManager("test-secret", -time.Minute)
	verifier := helpers.NewJWTManager("test-secret", time.Hour)
	users := &stubUsers{byID: map[string]*entity.User{
		"u1": {ID: "u1", Name: "Alice", Email: "alice@example.com"},
	}}
	r := newAuthTestRouter(users, verifier)

	tok, _, err := issuer.Generate("u1")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	w := doGet(r, "Bearer "+tok)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestAuth_DeletedUser(t *testing.T) {
	jwt := helpers.NewJWTManager("test-secret", time.Hour)
	r := newAuthTestRouter(&stubUsers{byID: map[string]*entity.User{}}, jwt)

	tok, _, err := jwt.Generate("gone")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	w := doGet(r, "Bearer "+tok)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}
