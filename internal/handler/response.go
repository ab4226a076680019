package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// ErrorStatus maps err onto an HTTP status and the envelope sent to clients.
// Errors that are not AppErrors are reported as internal without their text.
func ErrorStatus(err error) (int, *Response) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}
	resp := NewErrorResponse(appErr.Message)
	resp.Code = appErr.Code.String()
	return appErr.StatusCode(), resp
}

// RespondError records err on the context for the logging middleware and
// writes the error envelope.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, resp := ErrorStatus(err)
	c.AbortWithStatusJSON(status, resp)
}

func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, NewSuccessResponse(data))
}

func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, NewSuccessResponse(data))
}
