package utils

import "errors"

// Error taxonomy for the invoicing engine. Handlers classify with errors.Is;
// engine code wraps these with fmt.Errorf("%w: ...") to carry detail
// (e.g. the first short product on an insufficient-stock failure).
var (
	ErrorRecordNotFound      = errors.New("record not found")
	ErrorInvalidRequest      = errors.New("invalid request")
	ErrorForbidden           = errors.New("forbidden")
	ErrorInsufficientStock   = errors.New("insufficient stock")
	ErrorIdempotencyConflict = errors.New("idempotency key reused with a different payload")
	ErrorConflict            = errors.New("storage conflict, retry with the same idempotency key")
	ErrorUnavailable         = errors.New("collaborator unavailable")
)

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
