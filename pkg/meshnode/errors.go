package meshnode

import "errors"

var (
	// ErrStoreRequired is returned by Validate when no identity.Store
	// was configured.
	ErrStoreRequired = errors.New("meshnode: identity store is required")
	// ErrRadioRequired is returned by Validate when no Radio backend
	// was configured.
	ErrRadioRequired = errors.New("meshnode: radio backend is required")
	// ErrAlreadyStarted is returned by Start on a Node already running.
	ErrAlreadyStarted = errors.New("meshnode: already started")
	// ErrNotStarted is returned by operations that require a running
	// Node.
	ErrNotStarted = errors.New("meshnode: not started")
)
