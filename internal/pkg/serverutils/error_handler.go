package serverutils

import (
	"encoding/json"
	"errors"

	"vita-be/internal/service"
	"vita-be/pkg/council"
	"vita-be/pkg/persona"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		fe        *fiber.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return fiber.StatusBadRequest
	case errors.Is(err, persona.ErrNotFound), errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrJobNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, council.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrIngestBusy):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware renders errors returned by handlers as the JSON envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}
		code := StatusFor(err)
		return ctx.Status(code).JSON(ErrorResponse(code, err.Error()))
	}
}
