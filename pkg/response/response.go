package response

import (
	"errors"
	"net/http"

	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/gin-gonic/gin"
)

// Envelope is the uniform JSON body returned by every endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta carries pagination details.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// Success writes a 200 response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Paginated writes a 200 response with pagination metadata.
func Paginated(c *gin.Context, data interface{}, total int64, page, limit int) {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Data:    data,
		Meta:    &Meta{Page: page, Limit: limit, Total: total, TotalPages: pages},
	})
}

// BadRequest writes a 400 response.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Envelope{Success: false, Error: message})
}

// Unauthorized writes a 401 response.
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Envelope{Success: false, Error: message})
}

// Error maps a domain error kind onto an HTTP status. Anything that is not a
// DomainError is treated as an internal failure and its message is hidden.
func Error(c *gin.Context, err error) {
	var domErr *domain.DomainError
	if !errors.As(err, &domErr) {
		c.JSON(http.StatusInternalServerError, Envelope{Success: false, Error: "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(domErr.Err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(domErr.Err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(domErr.Err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(domErr.Err, domain.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(domErr.Err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(domErr.Err, domain.ErrForbidden):
		status = http.StatusForbidden
	}
	c.JSON(status, Envelope{Success: false, Error: domErr.Error()})
}
