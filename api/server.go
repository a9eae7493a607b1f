// Package api exposes the account registry and consolidation state over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/consolidation"
	"github.com/blndgs/aawallet/registry"
)

var logger = logrus.StandardLogger().WithField("module", "api")

// Accounts is the registry surface served by the API.
type Accounts interface {
	Accounts() []registry.Account
	VisibleAccounts() []registry.Account
	ActiveAccount() (registry.Account, error)
	Account(id string) (registry.Account, error)
	CreateAccount(ctx context.Context, name string) (registry.Account, error)
	RenameAccount(ctx context.Context, id, name string) (registry.Account, error)
	HideAccount(ctx context.Context, id string) (registry.Account, error)
	UnhideAccount(ctx context.Context, id string) (registry.Account, error)
	SwitchAccount(ctx context.Context, id string) (*builder.Builder, error)
}

// Consolidator is the consolidation surface served by the API.
type Consolidator interface {
	Plan(ctx context.Context) (*consolidation.Plan, error)
	Start(ctx context.Context) (*consolidation.Plan, error)
	Progress() *consolidation.Progress
	Running() bool
	Clear() error
}

// Server routes HTTP requests to the registry and consolidator.
type Server struct {
	accounts     Accounts
	consolidator Consolidator
	// runCtx outlives requests and bounds background consolidation runs.
	runCtx context.Context
	engine *gin.Engine
}

func NewServer(runCtx context.Context, accounts Accounts, consolidator Consolidator) *Server {
	s := &Server{
		accounts:     accounts,
		consolidator: consolidator,
		runCtx:       runCtx,
		engine:       gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	accounts := s.engine.Group("/accounts")
	accounts.GET("", s.listAccounts)
	accounts.POST("", s.createAccount)
	accounts.GET("/active", s.activeAccount)
	accounts.GET("/:id", s.getAccount)
	accounts.PATCH("/:id", s.renameAccount)
	accounts.POST("/:id/hide", s.hideAccount)
	accounts.POST("/:id/unhide", s.unhideAccount)
	accounts.POST("/:id/switch", s.switchAccount)

	consolidate := s.engine.Group("/consolidation")
	consolidate.GET("/plan", s.consolidationPlan)
	consolidate.POST("", s.startConsolidation)
	consolidate.GET("/progress", s.consolidationProgress)
	consolidate.DELETE("/progress", s.clearConsolidation)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(started),
		}).Debug("request served")
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNotInitialized),
		errors.Is(err, registry.ErrInstanceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrCreationInProgress),
		errors.Is(err, consolidation.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, registry.ErrCannotHidePrimary),
		errors.Is(err, registry.ErrLastVisibleAccount),
		errors.Is(err, registry.ErrAccountHidden),
		errors.Is(err, registry.ErrEmptyName),
		errors.Is(err, consolidation.ErrNothingToConsolidate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
