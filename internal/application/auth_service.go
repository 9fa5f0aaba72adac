package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forgestack/auth-api/internal/domain/entity"
	repo "github.com/forgestack/auth-api/internal/domain/repository"
	"github.com/forgestack/auth-api/pkg/helpers"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateEmail     = repo.ErrDuplicateEmail
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidResetToken  = errors.New("invalid or expired token")
	ErrNotificationFailed = errors.New("notification delivery failed")
)

// Notifier is the outbound email sink. Production wiring publishes jobs to
// a queue; tests and single-process deployments can send synchronously.
type Notifier interface {
	Send(ctx context.Context, to, subject, html string) error
}

// notifyTimeout bounds a single delivery attempt (or enqueue).
const notifyTimeout = 10 * time.Second

// Service orchestrates the credential store, hashing, reset tokens and the
// session token issuer into the user-facing auth operations.
type Service struct {
	Repo          repo.UserRepository
	JWT           *helpers.JWTManager
	Notifier      Notifier
	Logger        *logrus.Logger
	GCS           *storage.Client
	GCSBucket     string
	ES            *elasticsearch.Client
	ESUsersIndex  string
	ResetTokenTTL time.Duration
	ResetURL      string // front-end page the emailed reset link points at
}

func NewService(repo repo.UserRepository, jwt *helpers.JWTManager, notifier Notifier, logger *logrus.Logger, gcs *storage.Client, gcsBucket string, es *elasticsearch.Client, esUsersIndex string, resetTokenTTL time.Duration, resetURL string) *Service {
	return &Service{
		Repo:          repo,
		JWT:           jwt,
		Notifier:      notifier,
		Logger:        logger,
		GCS:           gcs,
		GCSBucket:     gcsBucket,
		ES:            es,
		ESUsersIndex:  esUsersIndex,
		ResetTokenTTL: resetTokenTTL,
		ResetURL:      resetURL,
	}
}

// NormalizeEmail lowercases and trims an email address. Every path that
// touches the store goes through this so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session is an issued bearer token with its expiry.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a credential record and issues a session token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, Session, error) {
	hash, err := helpers.HashPassword(in.Password)
	if err != nil {
		return nil, Session{}, err
	}
	u := &entity.User{
		Name:     strings.TrimSpace(in.Name),
		Email:    NormalizeEmail(in.Email),
		Password: hash,
	}
	if err := s.Repo.Create(ctx, u); err != nil {
		return nil, Session{}, err
	}
	u.Password = ""

	sess, err := s.issueSession(u.ID)
	if err != nil {
		return nil, Session{}, err
	}
	s.indexUser(ctx, u)
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email}).Info("user registered")
	}
	return u, sess, nil
}

// Login validates credentials and issues a session token. Unknown email and
// wrong password both map to ErrInvalidCredentials so responses cannot be
// used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string) (*entity.User, Session, error) {
	u, err := s.Repo.GetByEmail(ctx, NormalizeEmail(email), true)
	if err != nil || u == nil {
		return nil, Session{}, ErrInvalidCredentials
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		return nil, Session{}, ErrInvalidCredentials
	}
	u.Password = ""

	sess, err := s.issueSession(u.ID)
	if err != nil {
		return nil, Session{}, err
	}
	return u, sess, nil
}

func (s *Service) issueSession(userID string) (Session, error) {
	token, exp, err := s.JWT.Generate(userID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", userID).Error("generate session token failed")
		}
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp}, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, userID, false)
	if err != nil || u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

type UpdateProfileInput struct {
	Name  string
	Email string
}

// UpdateProfile applies optional name/email changes. An email change that
// collides with another record surfaces ErrDuplicateEmail.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, userID, false)
	if err != nil || u == nil {
		return nil, ErrUserNotFound
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		u.Name = name
	}
	if email := NormalizeEmail(in.Email); email != "" {
		u.Email = email
	}
	if err := s.Repo.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	s.indexUser(ctx, u)
	return u, nil
}

// ChangePassword verifies the current password and swaps in the new hash.
// The store only commits if the stored hash is still the one verified here,
// so two concurrent changes cannot both succeed off the same stale check.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	u, err := s.Repo.GetByID(ctx, userID, true)
	if err != nil || u == nil {
		return ErrUserNotFound
	}
	if !helpers.CompareHashAndPassword(u.Password, currentPassword) {
		return ErrInvalidCredentials
	}
	newHash, err := helpers.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdatePassword(ctx, u.ID, u.Password, newHash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost the race against another password change.
			return ErrInvalidCredentials
		}
		return err
	}
	if s.Logger != nil {
		s.Logger.WithField("user_id", u.ID).Info("password changed")
	}
	return nil
}

// ForgotPassword issues a reset token and emails a reset link. It returns
// nil for unknown emails: a distinguishable answer would let callers probe
// which addresses have accounts. If delivery fails the token is cleared
// again so no live token exists that the user never received.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.Repo.GetByEmail(ctx, NormalizeEmail(email), false)
	if err != nil || u == nil {
		if s.Logger != nil {
			s.Logger.WithField("email", NormalizeEmail(email)).Info("password reset requested for unknown email")
		}
		return nil
	}

	plain, hashed, err := helpers.GenerateResetToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(s.ResetTokenTTL)
	if err := s.Repo.SetResetToken(ctx, u.ID, hashed, expiresAt); err != nil {
		return err
	}

	link := strings.TrimRight(s.ResetURL, "/") + "/" + plain
	subject, html := resetEmail(u.Name, link, s.ResetTokenTTL)

	sendCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.Notifier.Send(sendCtx, u.Email, subject, html); err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Error("reset email delivery failed")
		}
		// Compensate: the issued token must not stay live.
		if clearErr := s.Repo.ClearResetToken(ctx, u.ID); clearErr != nil && s.Logger != nil {
			s.Logger.WithError(clearErr).WithField("user_id", u.ID).Error("clearing reset token failed")
		}
		return ErrNotificationFailed
	}
	if s.Logger != nil {
		s.Logger.WithField("user_id", u.ID).Info("password reset email sent")
	}
	return nil
}

// ResetPassword redeems a reset token. Redemption hashes the presented
// token and lets the store match digest and expiry in one atomic update;
// no-match and expired are deliberately the same outcome.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (*entity.User, Session, error) {
	newHash, err := helpers.HashPassword(newPassword)
	if err != nil {
		return nil, Session{}, err
	}
	u, err := s.Repo.RedeemResetToken(ctx, helpers.HashResetToken(token), time.Now(), newHash)
	if err != nil || u == nil {
		return nil, Session{}, ErrInvalidResetToken
	}
	sess, err := s.issueSession(u.ID)
	if err != nil {
		return nil, Session{}, err
	}
	if s.Logger != nil {
		s.Logger.WithField("user_id", u.ID).Info("password reset")
	}
	return u, sess, nil
}

// UploadAvatar stores an avatar in GCS and records its URL on the profile.
func (s *Service) UploadAvatar(ctx context.Context, userID string, r io.Reader, filename, contentType string) (string, error) {
	u, err := s.Repo.GetByID(ctx, userID, false)
	if err != nil || u == nil {
		return "", ErrUserNotFound
	}
	if s.GCS == nil || s.GCSBucket == "" {
		return "", errors.New("gcs not configured")
	}
	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	objectPath := filepath.ToSlash(filepath.Join("avatars", userID, id+ext))
	url, err := helpers.UploadObject(ctx, s.GCS, s.GCSBucket, objectPath, contentType, r)
	if err != nil {
		return "", err
	}
	u.AvatarURL = url
	if err := s.Repo.UpdateProfile(ctx, u); err != nil {
		return "", err
	}
	s.indexUser(ctx, u)
	return url, nil
}

// indexUser mirrors the public profile into Elasticsearch. Indexing is
// best-effort; a failure never fails the request.
func (s *Service) indexUser(ctx context.Context, u *entity.User) {
	if s.ES == nil || s.ESUsersIndex == "" {
		return
	}
	doc := map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"avatar_url": u.AvatarURL,
		"created_at": u.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": u.UpdatedAt.Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(doc)
	req := esapi.IndexRequest{Index: s.ESUsersIndex, DocumentID: u.ID, Body: strings.NewReader(string(b)), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("es index failed")
		}
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && s.Logger != nil {
		s.Logger.WithField("status", res.Status()).WithField("user_id", u.ID).Warn("es index response error")
	}
}

// SearchUsers performs a simple multi_match search on email and name.
func (s *Service) SearchUsers(ctx context.Context, q string, size int) ([]map[string]any, error) {
	if s.ES == nil || s.ESUsersIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"email^2", "name"},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(s.ES.Search.WithContext(c), s.ES.Search.WithIndex(s.ESUsersIndex), s.ES.Search.WithBody(strings.NewReader(string(b))))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
