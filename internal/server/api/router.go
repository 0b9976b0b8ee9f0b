package api

import (
	"context"
	"net/http"
	"strconv"

	"lockbox/internal/server/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. Background work started here stops when ctx is done.
func SetupRouter(ctx context.Context, handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{cfg.CORSOrigin},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType},
		ExposeHeaders: []string{echo.HeaderContentDisposition, echo.HeaderXRequestID},
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go uploadLimiter.RunJanitor(ctx)
	bodyLimit := middleware.BodyLimit(strconv.FormatInt(cfg.MaxUploadSize, 10))

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/stats", handler.HandleStats)

	e.POST("/upload", handler.HandleUpload, uploadLimiter.Middleware(), bodyLimit)
	e.GET("/download/:id", handler.HandleDownload)
	e.GET("/info/:id", handler.HandleInfo)
	e.DELETE("/delete/:id", handler.HandleDelete)

	return e
}
