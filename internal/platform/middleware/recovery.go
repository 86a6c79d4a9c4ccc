package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const defaultStackSize = 4 << 10

// RecoveryConfig tunes Recovery. OnPanic runs after the panic is logged,
// with the matched route template.
type RecoveryConfig struct {
	StackSize int
	OnPanic   func(route string)
}

func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return RecoveryWithConfig(logger, RecoveryConfig{})
}

// RecoveryWithConfig turns a handler panic into a 500. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func RecoveryWithConfig(logger zerolog.Logger, cfg RecoveryConfig) echo.MiddlewareFunc {
	if cfg.StackSize <= 0 {
		cfg.StackSize = defaultStackSize
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				stack := make([]byte, cfg.StackSize)
				stack = stack[:runtime.Stack(stack, false)]
				route := c.Path()
				if route == "" {
					route = "unmatched"
				}

				rid, _ := c.Get(RequestIDKey).(string)
				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", route).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("handler panicked")

				if cfg.OnPanic != nil {
					cfg.OnPanic(route)
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
