package server

import (
	stderrors "errors"
	"net/http"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/middleware"
	"github.com/Digital-Creators-Team/slot-progressives/types"
	"github.com/gin-gonic/gin"
)

// ErrUndefinedErrorCode is reported for errors that carry no application code
const ErrUndefinedErrorCode = -99

type (
	ErrorDetail            = types.ErrorDetail
	ErrorResponse          = types.ErrorResponse
	SuccessResponse[T any] = types.SuccessResponse[T]
)

// OK sends data with 200
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, types.NewSuccessResponse(http.StatusOK, data))
}

// Created sends data with 201
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, types.NewSuccessResponse(http.StatusCreated, data))
}

// NoContent sends 204
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends the error envelope. Application errors expose their code and message only.
func Error(c *gin.Context, statusCode int, err error) {
	code, msg := ErrUndefinedErrorCode, err.Error()
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		code, msg = appErr.Code, appErr.Message
	}
	ErrorWithCode(c, statusCode, code, msg)
}

// ErrorWithMessage sends the error envelope with a bare message
func ErrorWithMessage(c *gin.Context, statusCode int, message string) {
	ErrorWithCode(c, statusCode, ErrUndefinedErrorCode, message)
}

// ErrorWithCode sends the error envelope
func ErrorWithCode(c *gin.Context, statusCode, code int, message string) {
	c.JSON(statusCode, types.NewErrorResponse(statusCode, c.Request.URL.Path, code, message, middleware.GetTraceID(c)))
}

func BadRequest(c *gin.Context, err error) { Error(c, http.StatusBadRequest, err) }
func NotFound(c *gin.Context, err error) { Error(c, http.StatusNotFound, err) }
func InternalError(c *gin.Context, err error) { Error(c, http.StatusInternalServerError, err) }
func ServiceUnavailable(c *gin.Context, err error) { Error(c, http.StatusServiceUnavailable, err) }

// HandleAppError answers with the status mapped from the error code; uncoded errors are 500s.
func HandleAppError(c *gin.Context, err error) {
	if code := apperrors.GetCode(err); code != 0 {
		Error(c, apperrors.HTTPStatusFromCode(code), err)
		return
	}
	InternalError(c, err)
}
