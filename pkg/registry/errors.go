package registry

import "errors"

var (
	// ErrCapabilityNotFound indicates a lookup by name found no entry.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrAlreadyBound indicates a capability name is already registered
	// and the caller did not opt into a priority-ordered multi-binding.
	ErrAlreadyBound = errors.New("capability already bound")

	// ErrCapabilityMismatch indicates an agent declared a capability its
	// Capabilities() list does not actually expose a method ref for.
	ErrCapabilityMismatch = errors.New("declared capability has no method reference")
)
