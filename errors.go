package meshbus

import (
	"errors"

	"github.com/meshbus/meshbus/pkg/types"
)

// Re-exported error sentinels, so callers can errors.Is against the
// root package without importing pkg/types.
var (
	// ErrInvalidName: a partition, namespace or topic violates the naming
	// rules, or the composed fully qualified name is too long.
	ErrInvalidName = types.ErrInvalidName

	// ErrNotAdvertised: Publish or Unadvertise on a topic this node never
	// advertised.
	ErrNotAdvertised = types.ErrNotAdvertised

	// ErrAlreadyAdvertised: second Advertise from the same node on the
	// same topic.
	ErrAlreadyAdvertised = types.ErrAlreadyAdvertised

	// ErrTypeMismatch: payload type name does not match the type declared
	// at advertise time.
	ErrTypeMismatch = types.ErrTypeMismatch

	// ErrNoPublisher: Request on a service with no known replier.
	ErrNoPublisher = types.ErrNoPublisher

	// ErrTimeout: Request deadline elapsed before a reply arrived.
	ErrTimeout = types.ErrTimeout

	// ErrTransportError: an underlying socket failure kept a publish or
	// request from proceeding.
	ErrTransportError = types.ErrTransportError

	// ErrInvalidInterval: a discovery tunable was set below 1ms.
	ErrInvalidInterval = types.ErrInvalidInterval
)

// errNodeClosed guards every operation on a node after Close.
var errNodeClosed = errors.New("meshbus: node is closed")
