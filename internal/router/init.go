package router

import (
	"github.com/forgestack/auth-api/internal/application"
	"github.com/forgestack/auth-api/internal/container"
	pginfra "github.com/forgestack/auth-api/internal/infrastructure/postgres"
	handlers "github.com/forgestack/auth-api/internal/interface/http"
	"github.com/forgestack/auth-api/internal/router/modules"
)

// InitModules initializes all application modules and registers them with
// the router registry. Called once during startup.
func InitModules(r *Registry) {
	cfg := container.GetConfig()
	repo := pginfra.NewUserRepository(container.GetPGPool())

	service := application.NewService(
		repo,
		container.GetJWT(),
		container.GetNotifier(),
		container.GetLogger(),
		container.GetGCS(),
		cfg.GCSBucket,
		container.GetES(),
		cfg.ESUsersIndex,
		cfg.ResetTokenTTL,
		cfg.ResetPasswordURL,
	)

	authHandler := handlers.NewAuthHandler(service, container.GetLogger())
	userHandler := handlers.NewUserHandler(service, container.GetLogger())

	r.Add(modules.NewAuthModule(authHandler, repo, container.GetJWT()))
	r.Add(modules.NewUserModule(userHandler, repo, container.GetJWT()))
	if cfg.DebugMetricsEnabled {
		r.Add(modules.NewDebugModule())
	}
}
