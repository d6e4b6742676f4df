package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// httpError maps domain errors to HTTP status codes. Unknown errors are 500.
func httpError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingest.ErrMissingFilename),
		errors.Is(err, ingest.ErrUnsupportedType),
		errors.Is(err, ingest.ErrTooLarge),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, ingest.ErrNotText),
		errors.Is(err, vectorstore.ErrEmptyQuery),
		errors.Is(err, vectorstore.ErrInvalidScope),
		errors.Is(err, vectorstore.ErrMissingSession):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ingest.ErrTaskNotFound), errors.Is(err, errDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vectorstore.ErrPersistence):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	return echo.NewHTTPError(status, msg).SetInternal(err)
}

// errorHandler renders errors as ErrorResponse and logs server faults.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		he := httpError(err)

		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		if he.Code >= http.StatusInternalServerError {
			logger.Error(c.Request().Context(), "request failed", zap.Int("status", he.Code), zap.Error(err))
		}

		resp := ErrorResponse{Error: msg, RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(he.Code)
		} else {
			werr = c.JSON(he.Code, resp)
		}
		if werr != nil {
			logger.Warn(c.Request().Context(), "failed to write error response", zap.Error(werr))
		}
	}
}
