package stock

import apperrors "github.com/xiebiao/stockledger/pkg/errors"

var (
	ErrSKUNotFound        = apperrors.New(apperrors.ErrCodeSKUNotFound, "sku not found")
	ErrSKUExists          = apperrors.New(apperrors.ErrCodeSKUExists, "sku already registered")
	ErrInvalidSKU         = apperrors.New(apperrors.ErrCodeInvalidParams, "invalid sku")
	ErrInvalidQuantity    = apperrors.New(apperrors.ErrCodeInvalidQuantity, "quantity must be positive")
	ErrInsufficientStock  = apperrors.New(apperrors.ErrCodeInsufficientStock, "insufficient stock")
	ErrInvariantViolation = apperrors.New(apperrors.ErrCodeInvariantViolation, "stock invariant violated")
	ErrContentionExceeded = apperrors.New(apperrors.ErrCodeContentionExceeded, "too much contention on sku, retry later")

	// ErrVersionConflict is returned by CompareAndSwap when the stored version
	// moved on. Callers re-read and retry.
	ErrVersionConflict = apperrors.New(apperrors.ErrCodeVersionConflict, "stock record version conflict")
)
