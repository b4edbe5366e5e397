// Package api exposes the engine's trigger surface over HTTP. It carries no
// authentication and is meant to sit behind an authenticating proxy.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/engine"
	"github.com/bitfsorg/libpayplan-go/logger"
)

// CustomValidator is the echo validator backed by go-playground/validator.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates a bound request struct.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// newValidator returns a validator that checks decimal fields by value.
func newValidator() *CustomValidator {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return &CustomValidator{validator: v}
}

// Server is the HTTP admin surface.
type Server struct {
	eng  *engine.Engine
	echo *echo.Echo
	log  *slog.Logger
}

// New builds the router for eng.
func New(eng *engine.Engine, log *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()

	s := &Server{eng: eng, echo: e, log: logger.OrDiscard(log)}

	e.Use(echoMiddleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, Response{Status: http.StatusOK, Message: "healthy"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	v1.POST("/members", s.register)
	v1.GET("/members/:username", s.getAccount)
	v1.GET("/members/:username/summary", s.getSummary)
	v1.GET("/members/:username/history", s.getHistory)

	v1.POST("/deposits", s.deposit)
	v1.POST("/upgrades", s.upgrade)
	v1.POST("/credits", s.manualCredit)
	v1.POST("/withdrawals", s.withdraw)
	v1.POST("/wallet/fund", s.fundWallet)
	v1.POST("/wallet/upgrade", s.walletUpgrade)

	v1.POST("/batches/roi", s.runROI)
	v1.POST("/batches/rank", s.runRank)
	v1.POST("/batches/binary", s.runBinary)
	v1.POST("/batches/global", s.runGlobal)
	v1.POST("/batches/team", s.runTeam)
	v1.GET("/global/preview", s.previewGlobal)

	v1.GET("/plan", s.getPlan)
	v1.PUT("/plan", s.putPlan)
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("api: listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
