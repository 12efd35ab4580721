package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and event transports return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a record already exists under the same key
// - ErrUnavailable: store or channel temporarily unavailable (retryable)
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)

// Unavailable marks err as a transient infrastructure failure while keeping
// the original cause in the chain.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrUnavailable, err)
}
