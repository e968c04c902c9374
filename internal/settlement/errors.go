package settlement

import "github.com/pkg/errors"

// Sentinel errors for the orchestration boundary. Handlers map these onto
// HTTP responses; everything else is treated as an internal error.
var (
	// ErrAuthentication: webhook signature verification failed. Returned
	// before any state is touched.
	ErrAuthentication = errors.New("webhook authentication failed")

	// ErrNotFound: no payment exists for the given order reference.
	ErrNotFound = errors.New("payment not found")

	// ErrValidation: the request is malformed (missing identifiers).
	ErrValidation = errors.New("invalid request")

	// ErrUnrecognizedStatus: the provider reported a status outside the
	// known vocabulary; surfaced without marking the payment terminal.
	ErrUnrecognizedStatus = errors.New("unrecognized provider status")
)
