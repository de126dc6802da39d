// Package errors provides centralized error definitions and error handling
// utilities for swarmbot. It defines sentinel errors for the ranging, motion,
// protocol and transport subsystems, typed errors that carry component context,
// and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a subsystem:
//   - HardwareError: pin, timer or bridge failures (ranging, motion, hal)
//   - ProtocolError: malformed or unexpected payloads on a known topic
//   - TransportError: broker connection, subscribe and publish failures
//
// Semantic errors represent common conditions:
//   - ValidationError: invalid input or configuration
//   - TimeoutError: a bounded wait expired
//
// # Usage
//
//	err := errors.NewProtocolError("action payload is not an integer", errors.ErrMalformedPayload).
//		WithTopic("/agents/3/action").WithPayload("x")
//
//	if errors.Is(err, errors.ErrMalformedPayload) { ... }
//	if errors.IsRetryable(err) { ... }
//
// # Error Classification
//
// The agent absorbs recoverable conditions at component boundaries. Errors that
// do surface are classified by severity and by whether a later retry can succeed
// (a down link is retryable, a malformed payload is not).
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are only useful while debugging.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational conditions.
	SeverityInfo
	// SeverityWarning is for recoverable conditions (substituted values, deferred publishes).
	SeverityWarning
	// SeverityError is for failures of a single operation.
	SeverityError
	// SeverityCritical is for timing-hardware faults that need a watchdog reset.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Hardware sentinel errors
var (
	// ErrRangingTimeout indicates no falling echo edge arrived in the bounded wait.
	ErrRangingTimeout = New("ranging timed out")
	// ErrRangingBusy indicates a measurement was requested while one was in flight.
	ErrRangingBusy = New("ranging already in flight")
	// ErrActuationBusy indicates a drive was requested while one was in flight.
	ErrActuationBusy = New("actuation already in flight")
	// ErrInvalidRequest indicates an actuation request that cannot be driven.
	ErrInvalidRequest = New("invalid actuation request")
	// ErrAlarmWidth indicates a duration wider than the alarm counter.
	ErrAlarmWidth = New("duration exceeds alarm counter width")
	// ErrPinUnavailable indicates a configured pin could not be opened.
	ErrPinUnavailable = New("pin unavailable")
	// ErrHardwareFault indicates a hardware event never arrived.
	ErrHardwareFault = New("hardware fault")
)

// Protocol sentinel errors
var (
	// ErrMalformedPayload indicates a payload that is not in the expected format.
	ErrMalformedPayload = New("malformed payload")
	// ErrUnknownTopic indicates a message on a topic with no route.
	ErrUnknownTopic = New("unknown topic")
	// ErrUnknownAction indicates an action id outside the action table.
	ErrUnknownAction = New("unknown action")
	// ErrIndexAssigned indicates a second index assignment for this agent.
	ErrIndexAssigned = New("agent index already assigned")
)

// Transport sentinel errors
var (
	// ErrLinkDown indicates the coordination link is not ready.
	ErrLinkDown = New("coordination link down")
	// ErrNotConnected indicates an operation on a transport that never connected.
	ErrNotConnected = New("transport not connected")
	// ErrClosed indicates an operation on a closed transport.
	ErrClosed = New("transport closed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AgentError is the base interface for all swarmbot errors.
type AgentError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if a later attempt may succeed.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// HardwareError represents a failure at the hardware boundary.
//
// Example:
//
//	err := errors.NewHardwareError("motion", "set pin level", cause).WithPin("GPIO12")
//	fmt.Println(err) // "hardware error [component=motion, pin=GPIO12]: set pin level: ..."
type HardwareError struct {
	baseError
	Component string
	Pin       string
}

// NewHardwareError creates a new HardwareError.
func NewHardwareError(component, message string, cause error) *HardwareError {
	return &HardwareError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		Component: component,
	}
}

// WithPin adds a pin name to the error context.
func (e *HardwareError) WithPin(pin string) *HardwareError {
	e.Pin = pin
	return e
}

// WithSeverity sets the error severity.
func (e *HardwareError) WithSeverity(s Severity) *HardwareError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *HardwareError) Error() string {
	var parts []string
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Pin != "" {
		parts = append(parts, fmt.Sprintf("pin=%s", e.Pin))
	}
	return e.format("hardware error", parts)
}

// ProtocolError represents a malformed or unexpected message on a known topic.
// Protocol errors are never retryable: the same payload will fail again.
type ProtocolError struct {
	baseError
	Topic   string
	Payload string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityWarning,
		},
	}
}

// WithTopic adds the topic to the error context.
func (e *ProtocolError) WithTopic(topic string) *ProtocolError {
	e.Topic = topic
	return e
}

// WithPayload adds the offending payload to the error context.
func (e *ProtocolError) WithPayload(payload string) *ProtocolError {
	e.Payload = payload
	return e
}

// Error returns the formatted error message.
func (e *ProtocolError) Error() string {
	var parts []string
	if e.Topic != "" {
		parts = append(parts, fmt.Sprintf("topic=%s", e.Topic))
	}
	if e.Payload != "" {
		parts = append(parts, fmt.Sprintf("payload=%q", e.Payload))
	}
	return e.format("protocol error", parts)
}

// TransportError represents a failure of the messaging channel.
// Transport errors are retryable by default: the link may come back.
type TransportError struct {
	baseError
	Op    string
	Topic string
}

// NewTransportError creates a new TransportError for the given operation
// ("connect", "subscribe", "publish", ...).
func NewTransportError(op, message string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Op: op,
	}
}

// WithTopic adds the topic to the error context.
func (e *TransportError) WithTopic(topic string) *TransportError {
	e.Topic = topic
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TransportError) WithRetryable(r bool) *TransportError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TransportError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Topic != "" {
		parts = append(parts, fmt.Sprintf("topic=%s", e.Topic))
	}
	return e.format("transport error", parts)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or configuration.
//
// Example:
//
//	err := errors.NewValidationError("magnitude must be non-negative").
//		WithField("magnitude").WithValue(-1.0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TimeoutError represents a bounded wait that expired.
//
// Example:
//
//	err := errors.NewTimeoutError("echo falling edge", 30*time.Millisecond)
//	fmt.Println(err) // "timeout error: echo falling edge (timeout: 30ms)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
// This checks for AgentError implementations first, then known sentinels.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var agentErr AgentError
	if As(err, &agentErr) {
		return agentErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrLinkDown) || Is(err, ErrRangingTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AgentError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var agentErr AgentError
	if As(err, &agentErr) {
		return agentErr.Severity()
	}

	return SeverityError
}

// IsProtocolAnomaly returns true for errors the step loop treats as a no-op.
func IsProtocolAnomaly(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *ProtocolError
	return As(err, &protoErr) || Is(err, ErrMalformedPayload) || Is(err, ErrUnknownAction)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
