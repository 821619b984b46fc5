package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
)

// Logger logs every request at trace level and failed requests at error level.
func Logger(logger log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, req middleware.RequestLoggerValues) error {
			logger := logger.WithField("uri", req.URI).WithField("status", req.Status)
			if req.Error != nil {
				logger.Errorf("Status server failed to process request: %v", req.Error)
			} else {
				logger.Tracef("Status server received request")
			}

			return nil
		},
	})
}

func Recover(logger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) (err error) {
			defer errors.Recover(func(cause error) {
				logger.Debugf("%s", errors.ErrorStack(cause))
				err = cause
			})

			return next(ctx)
		}
	}
}
