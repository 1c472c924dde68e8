package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput        = "SMS_BAD_INPUT"
	ErrorNotFound        = "SMS_NOT_FOUND"
	ErrorConflict        = "SMS_CONFLICT"
	ErrorDecodeFailed    = "SMS_DECODE_FAILED"
	ErrorKindUnsupported = "SMS_KIND_UNSUPPORTED"
	ErrorLedgerFailed    = "SMS_LEDGER_FAILED"
	ErrorInternal        = "SMS_INTERNAL_ERROR"
)

// MapError converts any error raised below the dispatcher into a go-errors
// envelope with a stable text code and status.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrMessageNotFound):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrEntityAlreadyPresent), errors.Is(err, ErrClaimNotHeld), errors.Is(err, ErrLeaseExpired), errors.Is(err, ErrWriteConflict):
		return NewError(err.Error(), goerrors.CategoryConflict, ErrorConflict)
	case errors.Is(err, ErrInvalidSubmission), errors.Is(err, ErrInvalidEntityKind):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "decode"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorDecodeFailed)
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "unsupported"):
		return NewError(err.Error(), goerrors.CategoryOperation, ErrorKindUnsupported)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

// WrapError attaches a text code to an infrastructure failure while keeping
// the source error reachable through errors.Is.
func WrapError(err error, category goerrors.Category, textCode string, message string) *goerrors.Error {
	if err == nil {
		return nil
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(err, category, message).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryOperation:
		return ErrorKindUnsupported
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
