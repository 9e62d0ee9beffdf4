package types

// Publisher is one advertised endpoint for a topic or service: the
// discovery layer's unit of bookkeeping.
//
// Service publishers additionally carry SocketID, ReqType and RepType;
// message publishers leave those fields empty and set MsgType instead.
type Publisher struct {
	// Topic is the fully qualified topic or service name.
	Topic string

	// Addr is the primary streaming endpoint (pub/sub data or service
	// request delivery).
	Addr string

	// CtrlAddr is the control endpoint used for subscriber handshakes
	// (NewConnection/EndConnection). Service replies are not delivered
	// here; they return on the request's own connection to Addr.
	CtrlAddr string

	// PUuid is the process that owns this publisher.
	PUuid ProcessID

	// NUuid is the node within PUuid that owns this publisher.
	NUuid NodeID

	// Scope is the visibility this publisher was advertised with.
	Scope Scope

	// MsgType is the declared message type name (message publishers only).
	MsgType string

	// SocketID, ReqType and RepType are set for service publishers only.
	SocketID string
	ReqType  string
	RepType  string
}

// IsService reports whether this record describes a service replier
// rather than a message publisher.
func (p Publisher) IsService() bool {
	return p.ReqType != "" || p.RepType != "" || p.SocketID != ""
}
