package parking

import "errors"

// Sentinel errors returned (wrapped) by pipeline stages.
var (
	// ErrTransport covers network failures, timeouts and non-2xx responses.
	ErrTransport = errors.New("transport error")
	// ErrExtractionEmpty means the page yielded zero usable records.
	ErrExtractionEmpty = errors.New("no parking records extracted")
	// ErrPersistence means the sink failed or confirmed zero rows.
	ErrPersistence = errors.New("persistence failed")
	// ErrMissingCredentials means the selected sink has no credentials configured.
	ErrMissingCredentials = errors.New("missing sink credentials")
)
