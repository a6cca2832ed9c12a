package reservation

import apperrors "github.com/xiebiao/stockledger/pkg/errors"

var (
	ErrReservationNotFound    = apperrors.New(apperrors.ErrCodeReservationNotFound, "reservation not found")
	ErrReservationExpired     = apperrors.New(apperrors.ErrCodeReservationExpired, "reservation expired")
	ErrAlreadyTerminated      = apperrors.New(apperrors.ErrCodeAlreadyTerminated, "reservation already released or expired")
	ErrCannotReleaseCommitted = apperrors.New(apperrors.ErrCodeCannotReleaseCommitted, "committed reservation cannot be released")
	ErrInvalidTTL             = apperrors.New(apperrors.ErrCodeInvalidTTL, "invalid reservation ttl")
	ErrDuplicateID            = apperrors.New(apperrors.ErrCodeDuplicateEntry, "reservation id already exists")

	// ErrStatusConflict means the reservation left PENDING before the write.
	ErrStatusConflict = apperrors.New(apperrors.ErrCodeStatusConflict, "reservation is no longer pending")
)
