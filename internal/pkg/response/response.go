package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Response struct {
	Data interface{} `json:"data,omitempty"`
	Meta *Meta       `json:"meta,omitempty"`
}

type Meta struct {
	Total   int64 `json:"total,omitempty"`
	Page    int   `json:"page,omitempty"`
	PerPage int   `json:"per_page,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Data: data})
}

func OKWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, Response{Data: data, Meta: meta})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Data: data})
}

func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Data: data})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func BadRequest(c *gin.Context, code, message string, details interface{}) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message, Details: details},
	})
}

func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: ErrorDetail{Code: errors.ErrCodeNotFound, Message: message},
	})
}

// Error maps an application error onto the HTTP envelope. Internal causes
// are logged server-side and never exposed to the client.
func Error(c *gin.Context, err error) {
	appErr := errors.FromError(err)
	status := errors.GetHTTPStatus(appErr.Code)

	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}

	if status >= http.StatusInternalServerError {
		log.Error().
			Err(appErr).
			Str("request_id", requestID).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Msg("Internal server error")

		// Generic message only: the cause may contain SQL or broker details.
		c.JSON(status, ErrorResponse{
			Error: ErrorDetail{
				Code:      appErr.Code,
				Message:   "An internal error occurred. Please try again later.",
				RequestID: requestID,
			},
		})
		return
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
		},
	})
}
