package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies link failures.
type ErrorKind string

const (
	TransportUnavailable      ErrorKind = "transport_unavailable"
	AdapterUnavailable        ErrorKind = "adapter_unavailable"
	NoDeviceFound             ErrorKind = "no_device_found"
	UserCancelled             ErrorKind = "user_cancelled"
	ConnectFailed             ErrorKind = "connect_error"
	ServiceUnavailable        ErrorKind = "service_unavailable"
	CharacteristicUnavailable ErrorKind = "characteristic_unavailable"
	SubscribeFailed           ErrorKind = "subscribe_error"
	WriteFailed               ErrorKind = "write_error"
	ReadFailed                ErrorKind = "read_error"
	ReassemblyReset           ErrorKind = "reassembly_reset"
	ConsumerCallbackFailed    ErrorKind = "consumer_callback_error"
	NotConnected              ErrorKind = "not_connected"
)

// LinkError represents any failure surfaced by the transport or the session.
type LinkError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause
func (e *LinkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare LinkError values by Kind
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind
var (
	ErrTransportUnavailable      = &LinkError{Kind: TransportUnavailable}
	ErrAdapterUnavailable        = &LinkError{Kind: AdapterUnavailable}
	ErrNoDeviceFound             = &LinkError{Kind: NoDeviceFound}
	ErrUserCancelled             = &LinkError{Kind: UserCancelled}
	ErrConnect                   = &LinkError{Kind: ConnectFailed}
	ErrServiceUnavailable        = &LinkError{Kind: ServiceUnavailable}
	ErrCharacteristicUnavailable = &LinkError{Kind: CharacteristicUnavailable}
	ErrSubscribe                 = &LinkError{Kind: SubscribeFailed}
	ErrWrite                     = &LinkError{Kind: WriteFailed}
	ErrRead                      = &LinkError{Kind: ReadFailed}
	ErrReassemblyReset           = &LinkError{Kind: ReassemblyReset}
	ErrConsumerCallback          = &LinkError{Kind: ConsumerCallbackFailed}
	ErrNotConnected              = &LinkError{Kind: NotConnected}
)

// NewError builds a LinkError of the given kind wrapping cause.
func NewError(kind ErrorKind, cause error, format string, args ...interface{}) *LinkError {
	return &LinkError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the outermost LinkError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var lerr *LinkError
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return ""
}

// IsSetupFailure reports whether err terminates a connection attempt.
func IsSetupFailure(err error) bool {
	switch KindOf(err) {
	case TransportUnavailable, AdapterUnavailable, NoDeviceFound, UserCancelled,
		ConnectFailed, ServiceUnavailable, CharacteristicUnavailable, SubscribeFailed:
		return true
	default:
		return false
	}
}

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}
