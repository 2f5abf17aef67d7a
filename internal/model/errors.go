package model

import "errors"

var (
	// ErrNotFound indicates a media item or stored record was not found.
	ErrNotFound = errors.New("not found")

	// ErrCancelled indicates an operation stopped because its context was
	// cancelled. It is never a failure of the operation itself.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidMediaID indicates a media id that cannot name a media item.
	ErrInvalidMediaID = errors.New("invalid media id")
)

// Cancelled wraps a context error so that both errors.Is(err, ErrCancelled)
// and errors.Is(err, context.Canceled) hold.
func Cancelled(ctxErr error) error {
	return errors.Join(ErrCancelled, ctxErr)
}

// IsCancelled reports whether err represents an intentional cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
