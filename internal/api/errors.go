package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

const (
	codeUnauthenticated = "unauthenticated"
	codeConflict        = "conflict"
	codeBadRequest      = "bad_request"
)

// badRequest is a malformed request body or parameter.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func errBadRequest(msg string) error {
	return &badRequest{msg: msg}
}

var statusByCode = map[string]int{
	codeBadRequest:               http.StatusBadRequest,
	orders.CodeValidation:        http.StatusBadRequest,
	orders.CodeEmptyCart:         http.StatusBadRequest,
	orders.CodeInsufficientStock: http.StatusBadRequest,
	orders.CodeInvalidStatus:     http.StatusBadRequest,
	codeUnauthenticated:          http.StatusUnauthorized,
	orders.CodeForbidden:         http.StatusForbidden,
	orders.CodeNotFound:          http.StatusNotFound,
	codeConflict:                 http.StatusConflict,
	orders.CodeInvalidTransition: http.StatusConflict,
	orders.CodeStorage:           http.StatusInternalServerError,
	orders.CodeInternal:          http.StatusInternalServerError,
}

// errorCode classifies errors from every layer the handlers call.
func errorCode(err error) string {
	var bad *badRequest

	switch {
	case errors.As(err, &bad):
		return codeBadRequest
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidCredentials):
		return codeUnauthenticated
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword):
		return orders.CodeValidation
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrCartItemNotFound),
		errors.Is(err, database.ErrSessionNotFound):
		return orders.CodeNotFound
	case errors.Is(err, database.ErrInsufficientStock):
		return orders.CodeInsufficientStock
	case errors.Is(err, database.ErrDuplicate),
		errors.Is(err, database.ErrOptimisticLockFailed):
		return codeConflict
	}

	return orders.Code(err)
}

func (s *Server) respondError(c *gin.Context, err error) {
	code := errorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := gin.H{"error": err.Error(), "code": code}

	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	var serr *orders.InsufficientStockError
	if errors.As(err, &serr) {
		body["product_ids"] = serr.ProductIDs
	}

	if status == http.StatusInternalServerError {
		s.logger.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"path":       c.FullPath(),
		}).WithError(err).Error("request failed")

		if s.production {
			body["error"] = "internal server error"
		}
	}

	c.AbortWithStatusJSON(status, body)
}
