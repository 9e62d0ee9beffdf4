// Package types defines the value types shared across meshbus: process,
// node and handler identifiers, publication scope, publisher records and
// the error sentinels every other package wraps.
//
// This is the lowest package in the module: it must not import anything
// else under github.com/meshbus/meshbus.
package types

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// ProcessID uniquely identifies one operating-system process for the
// lifetime of that process.
type ProcessID [16]byte

// EmptyProcessID is the zero value, used as a sentinel for "no process".
var EmptyProcessID ProcessID

// NewProcessID generates a fresh random ProcessID.
func NewProcessID() ProcessID {
	return ProcessID(uuid.New())
}

// String returns the canonical UUID string form.
func (id ProcessID) String() string {
	return uuid.UUID(id).String()
}

// ShortString returns the first 8 hex characters, for log lines.
func (id ProcessID) ShortString() string {
	s := hex.EncodeToString(id[:4])
	return s
}

// Bytes returns the raw 16 bytes.
func (id ProcessID) Bytes() []byte {
	return id[:]
}

// IsEmpty reports whether id is the zero value.
func (id ProcessID) IsEmpty() bool {
	return id == EmptyProcessID
}

// ProcessIDFromBytes builds a ProcessID from exactly 16 bytes.
func ProcessIDFromBytes(b []byte) (ProcessID, error) {
	if len(b) != 16 {
		return EmptyProcessID, ErrInvalidID
	}
	var id ProcessID
	copy(id[:], b)
	return id, nil
}

// NodeID uniquely identifies a node within its owning process.
type NodeID [16]byte

// EmptyNodeID is the zero value.
var EmptyNodeID NodeID

// NewNodeID generates a fresh random NodeID.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

func (id NodeID) Bytes() []byte {
	return id[:]
}

func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// NodeIDFromBytes builds a NodeID from exactly 16 bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != 16 {
		return EmptyNodeID, ErrInvalidID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// HandlerID identifies one pending service call, correlating a request
// with the reply that eventually answers it.
type HandlerID [16]byte

// EmptyHandlerID is the zero value.
var EmptyHandlerID HandlerID

// NewHandlerID generates a fresh random HandlerID.
func NewHandlerID() HandlerID {
	return HandlerID(uuid.New())
}

func (id HandlerID) String() string {
	return uuid.UUID(id).String()
}

func (id HandlerID) Bytes() []byte {
	return id[:]
}

func (id HandlerID) IsEmpty() bool {
	return id == EmptyHandlerID
}

// HandlerIDFromBytes builds a HandlerID from exactly 16 bytes.
func HandlerIDFromBytes(b []byte) (HandlerID, error) {
	if len(b) != 16 {
		return EmptyHandlerID, ErrInvalidID
	}
	var id HandlerID
	copy(id[:], b)
	return id, nil
}

// ErrInvalidID is returned when an identifier cannot be parsed from bytes.
var ErrInvalidID = errors.New("meshbus: identifier must be exactly 16 bytes")
