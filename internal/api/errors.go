package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"portal/internal/metadata"
	"portal/internal/provider"
)

type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func UnknownTypeError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_TYPE",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("Unknown entity type: %s", name),
	}
}

func InvalidQueryError(msg string) *AppError {
	return NewAppError("INVALID_QUERY", fiber.StatusBadRequest, msg)
}

// fromProviderError maps provider error classes onto HTTP responses. Other
// errors are left for ErrorHandler to report as internal.
func fromProviderError(err error) error {
	switch {
	case provider.IsNotFound(err):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, "Entity not found")
	case provider.IsConflict(err):
		return NewAppError("CONFLICT", fiber.StatusConflict, "Entity already exists")
	case provider.IsUnsupported(err):
		return NewAppError("NOT_IMPLEMENTED", fiber.StatusNotImplemented, err.Error())
	case metadata.IsConfigurationError(err):
		return NewAppError("CONFIGURATION_ERROR", fiber.StatusInternalServerError, "Entity type is misconfigured")
	}
	return err
}

// ErrorHandler renders AppErrors as-is and hides everything else.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(fromProviderError(err), &appErr) {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		}
		return c.Status(code).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
