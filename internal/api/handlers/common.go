package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/roomcast/transcript-relay/internal/utils"
)

// APIError is the JSON error body for every REST endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)

	code := string(utils.CodeInternal)
	message := "internal error"
	var ae *utils.AppError
	if errors.As(err, &ae) {
		code = string(ae.Code)
		if ae.Message != "" {
			message = ae.Message
		}
	} else if errors.Is(err, utils.ErrNotFound) {
		code = string(utils.CodeNotFound)
		message = "not found"
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{"error": APIError{Code: code, Message: message}})
}
