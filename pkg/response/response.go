package response

import "github.com/gofiber/fiber/v2"

// Validation issue types
const (
	TypeMissing        = "missing"
	TypeExtraForbidden = "extra_forbidden"
	TypeJSONInvalid    = "json_invalid"
	TypeTypeError      = "type_error"
	TypeValueError     = "value_error"
	TypeTooShort       = "too_short"
	TypeTooLong        = "too_long"
	TypeGreaterEqual   = "greater_than_equal"
	TypeLessEqual      = "less_than_equal"
)

// ErrorResponse is the body of every error reply. Detail is a message for
// most errors and a list of ValidationIssue for 422s.
type ErrorResponse struct {
	Detail interface{} `json:"detail"`
}

// ValidationIssue locates one invalid input
type ValidationIssue struct {
	Origin string        `json:"origin"`
	Loc    []interface{} `json:"loc"`
	Msg    string        `json:"msg"`
	Type   string        `json:"type"`
}

func Error(c *fiber.Ctx, status int, detail interface{}) error {
	return c.Status(status).JSON(ErrorResponse{Detail: detail})
}

func ValidationError(c *fiber.Ctx, issues []ValidationIssue) error {
	return Error(c, fiber.StatusUnprocessableEntity, issues)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, message)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, message)
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, message)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, "Rate limit exceeded")
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unavailable(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(data)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}
