package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
)

type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func requestIDFromCtx(c *fiber.Ctx) string {
	if s, ok := c.Locals(RequestIDLocalKey).(string); ok {
		return s
	}
	return ""
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		RequestID: requestIDFromCtx(c),
		Error:     errorEnvelope{Code: code, Message: message},
	})
}

// writeAppError maps err to its status and writes the standard body.
func writeAppError(c *fiber.Ctx, err error) error {
	code := common.CodeOf(err)
	return c.Status(HTTPStatus(err)).JSON(errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: publicMessage(err, code),
			Stage:   string(pipeline.StageOf(err)),
		},
	})
}

// HTTPStatus is the response status for an error. Timeouts win over the
// error's own code.
func HTTPStatus(err error) int {
	if common.IsTimeout(err) {
		return fiber.StatusGatewayTimeout
	}
	switch common.CodeOf(err) {
	case common.CodeUnsupportedFormat, common.CodeTypeMismatch:
		return fiber.StatusUnsupportedMediaType
	case common.CodePayloadTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case common.CodeExtractionFailed:
		return fiber.StatusUnprocessableEntity
	case common.CodeOCRFailed, common.CodeCompletionFailed, common.CodeInvalidModelResponse:
		return fiber.StatusBadGateway
	case common.CodeQuotaExceeded:
		return fiber.StatusTooManyRequests
	case common.CodeNotFound:
		return fiber.StatusNotFound
	case common.CodeInvalidInput:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// publicMessage strips the stage wrapper and hides errors we did not classify.
func publicMessage(err error, code string) string {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		err = pe.Err
	}
	var ae *common.AppError
	if errors.As(err, &ae) && ae.Code == code {
		return ae.Message
	}
	if code == common.CodeInternal {
		return "internal server error"
	}
	return err.Error()
}

// ErrorHandler is the Fiber fallback for errors handlers return unmapped.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if !errors.As(err, &fe) {
			return writeAppError(c, err)
		}
		switch fe.Code {
		case fiber.StatusBadRequest:
			return writeError(c, fe.Code, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, fe.Code, common.CodeNotFound, "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, fe.Code, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, fe.Code, common.CodePayloadTooLarge, "request body too large")
		default:
			return writeError(c, fe.Code, common.CodeInternal, "internal server error")
		}
	}
}
