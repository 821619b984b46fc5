package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/River-unknown/kit/internal/attempt"
	"github.com/River-unknown/kit/internal/pool"
)

const (
	healthPath = "/healthz"
	statusPath = "/status"
)

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Pool     *pool.Stats      `json:"pool,omitempty"`
	Attempts []attempt.Status `json:"attempts"`
	Capacity int              `json:"capacity"`
}

type StatusController struct {
	Pool        PoolStater
	Attempts    AttemptTracker
	HealthCheck func() error
}

// Register registers the controller endpoints.
func (controller *StatusController) Register(e *echo.Echo) {
	e.GET(healthPath, controller.healthAction)
	e.GET(statusPath, controller.statusAction)
}

func (controller *StatusController) healthAction(ctx echo.Context) error {
	if controller.HealthCheck != nil {
		if err := controller.HealthCheck(); err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		}
	}

	return ctx.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (controller *StatusController) statusAction(ctx echo.Context) error {
	resp := statusResponse{Attempts: []attempt.Status{}}

	if controller.Pool != nil {
		stats := controller.Pool.Stats()
		resp.Pool = &stats
	}

	if controller.Attempts != nil {
		resp.Capacity = controller.Attempts.Capacity()

		if inFlight := controller.Attempts.InFlight(); inFlight != nil {
			resp.Attempts = inFlight
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}
