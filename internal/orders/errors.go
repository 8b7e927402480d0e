package orders

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Stable error codes returned by Code.
const (
	CodeValidation        = "validation"
	CodeEmptyCart         = "empty_cart"
	CodeInsufficientStock = "insufficient_stock"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeStorage           = "storage"
	CodeInternal          = "internal"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("order status transition not allowed")
	// ErrNotFound covers both a missing order and one the caller may not
	// see.
	ErrNotFound  = errors.New("order not found")
	ErrForbidden = errors.New("forbidden")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s is required", e.Field)
}

type InsufficientStockError struct {
	ProductIDs []int64
}

func (e *InsufficientStockError) Error() string {
	ids := make([]string, len(e.ProductIDs))
	for i, id := range e.ProductIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("insufficient stock for product(s) %s", strings.Join(ids, ", "))
}

// StorageError wraps any failure that is not a business rule. The
// transaction it happened in has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func Code(err error) string {
	var validation *ValidationError
	var stock *InsufficientStockError
	var storage *StorageError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeValidation
	case errors.Is(err, ErrEmptyCart):
		return CodeEmptyCart
	case errors.As(err, &stock):
		return CodeInsufficientStock
	case errors.Is(err, ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.As(err, &storage):
		return CodeStorage
	default:
		return CodeInternal
	}
}

// isBusinessError reports errors that pass through a transaction
// unwrapped.
func isBusinessError(err error) bool {
	switch Code(err) {
	case CodeStorage, CodeInternal:
		return false
	}
	return true
}
