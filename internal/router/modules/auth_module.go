package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgestack/auth-api/internal/container"
	repo "github.com/forgestack/auth-api/internal/domain/repository"
	handlers "github.com/forgestack/auth-api/internal/interface/http"
	"github.com/forgestack/auth-api/internal/interface/middleware"
	"github.com/forgestack/auth-api/pkg/helpers"
)

// AuthModule wires the authentication endpoints.
// Public: register, login, forgot-password, reset-password.
// Protected: me, profile, change-password.
type AuthModule struct {
	Handler *handlers.AuthHandler
	Users   repo.UserRepository
	JWT     *helpers.JWTManager
}

func NewAuthModule(h *handlers.AuthHandler, users repo.UserRepository, jwt *helpers.JWTManager) *AuthModule {
	return &AuthModule{Handler: h, Users: users, JWT: jwt}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	// Public endpoints with IP-based rate limits; login and forgot-password
	// are the abuse targets.
	registerLimiter := middleware.RateLimit(container.GetRedis(), 10, time.Minute, middleware.KeyByIPAndPath(), nil)
	loginLimiter := middleware.RateLimit(container.GetRedis(), 10, time.Minute, middleware.KeyByIP(), nil)
	forgotLimiter := middleware.RateLimit(container.GetRedis(), 5, time.Minute, middleware.KeyByIPAndPath(), nil)
	resetLimiter := middleware.RateLimit(container.GetRedis(), 30, time.Minute, middleware.KeyByIPAndPath(), nil)

	rg.POST("/auth/register", registerLimiter, m.Handler.Register)
	rg.POST("/auth/login", loginLimiter, m.Handler.Login)
	rg.POST("/auth/forgot-password", forgotLimiter, m.Handler.ForgotPassword)
	rg.PUT("/auth/reset-password/:token", resetLimiter, m.Handler.ResetPassword)

	// Protected
	auth := rg.Group("/")
	auth.Use(middleware.Auth(m.Users, m.JWT))
	auth.Use(middleware.RateLimit(container.GetRedis(), 120, time.Minute, middleware.KeyByUserID(), nil))
	{
		auth.GET("/auth/me", m.Handler.Me)
		auth.PUT("/auth/profile", m.Handler.UpdateProfile)
		auth.PUT("/auth/change-password", m.Handler.ChangePassword)
	}
}
