// Package http implements the inbound HTTP adapters.
package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"calsync_server/pkg/apperr"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetAccountID extracts the authenticated account id set by the auth
// middleware.
func GetAccountID(c *fiber.Ctx) (string, error) {
	accountID, ok := c.Locals("account_id").(string)
	if !ok || accountID == "" {
		return "", ErrUnauthorized
	}
	return accountID, nil
}

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp string    `json:"timestamp"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponse renders an error through the application taxonomy so
// provider failures, auth expiry and validation faults keep their
// status codes and machine-readable codes.
func ErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.HTTPStatus()).JSON(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func BadRequestResponse(c *fiber.Ctx, message string) error {
	return ErrorResponse(c, apperr.BadRequest(message))
}
