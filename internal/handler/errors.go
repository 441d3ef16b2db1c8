package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the JSON body of every error the proxy synthesizes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func errorBody(category, details string) ErrorResponse {
	return ErrorResponse{Error: category, Details: details}
}

// ErrorHandler returns an echo.HTTPErrorHandler that renders errors escaping
// handlers and middleware (recovered panics, body limit, ...) in the same
// {"error","details"} envelope as upstream failures.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		category := "internal server error"
		details := err.Error()

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			category = http.StatusText(code)
			details = fmt.Sprint(he.Message)
			if he.Internal != nil {
				details = he.Internal.Error()
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("unhandled error",
				"err", err,
				"path", c.Request().URL.Path,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, errorBody(category, details))
		}
		if werr != nil {
			logger.Warn("writing error response", "err", werr)
		}
	}
}
