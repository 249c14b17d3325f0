package session

import (
	"errors"
	"fmt"

	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

var (
	ErrNotBound        = errors.New("session is not bound")
	ErrClosed          = errors.New("session closed")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrConnectionLost  = errors.New("connection lost")
	ErrResponseTimeout = errors.New("response timeout")
	ErrPeerUnbind      = errors.New("gateway requested unbind")
)

// TransportError is a TCP level failure or an unusable PDU stream. The connection it
// happened on is torn down and everything pending on it is failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type RejectionKind int

const (
	RejectUnknown RejectionKind = iota
	RejectThrottled
	RejectInvalidDestination
	RejectInvalidSource
)

func (k RejectionKind) String() string {
	switch k {
	case RejectThrottled:
		return "throttled"
	case RejectInvalidDestination:
		return "invalid_destination"
	case RejectInvalidSource:
		return "invalid_source"
	}
	return "unknown"
}

// GatewayRejection is a response PDU carrying a non-zero command_status.
type GatewayRejection struct {
	Command pdu.CommandID
	Status  pdu.CommandStatus
	Kind    RejectionKind
}

func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("gateway rejected %s: %s (%s)", e.Command, e.Status, e.Kind)
}

// Retryable is false only for addressing errors; everything else may succeed later.
func (e *GatewayRejection) Retryable() bool {
	return e.Kind == RejectThrottled || e.Kind == RejectUnknown
}

func Classify(status pdu.CommandStatus) RejectionKind {
	switch status {
	case pdu.StatusThrottled, pdu.StatusMsgQFul:
		return RejectThrottled
	case pdu.StatusInvDstAdr, pdu.StatusInvDstTON, pdu.StatusInvDstNPI:
		return RejectInvalidDestination
	case pdu.StatusInvSrcAdr, pdu.StatusInvSrcTON, pdu.StatusInvSrcNPI:
		return RejectInvalidSource
	}
	return RejectUnknown
}

func newRejection(cmd pdu.CommandID, status pdu.CommandStatus) *GatewayRejection {
	return &GatewayRejection{Command: cmd, Status: status, Kind: Classify(status)}
}

// IsTransport reports whether err means the connection, not the message, failed.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrNotBound) || errors.Is(err, ErrConnectionLost)
}

func isCredentialFailure(status pdu.CommandStatus) bool {
	return status == pdu.StatusInvPaswd || status == pdu.StatusInvSysID || status == pdu.StatusBindFail
}
