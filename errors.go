package rocecap

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/behrlich/rocecap/internal/capture"
)

// Error represents a structured capture-pipeline error with context and
// errno mapping.
type Error struct {
	Op     string        // operation that failed, e.g. "qp-transition", "flow-create"
	Phase  string        // pipeline phase: "qp-init", "flow-steer", "mr-register", "ring-attach", "capture"
	Device int           // IB device index (-1 if not applicable)
	Code   ErrCode       // high-level error category
	Errno  syscall.Errno // kernel errno (0 if not applicable)
	Msg    string
	Inner  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.Device >= 0 {
		parts = append(parts, fmt.Sprintf("device=%d", e.Device))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("rocecap: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("rocecap: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is match two *Error values by code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Severity reports whether this error should abort startup, degrade
// startup (continue with reduced capability), or is a runtime condition.
func (e *Error) Severity() Severity {
	switch e.Code {
	case ErrCodeFlowSteerDegraded, ErrCodeMRFallback:
		return SeverityDegraded
	case ErrCodeValidation, ErrCodeDeviceNotFound, ErrCodeQPTransition, ErrCodeKernelNotSupported:
		if e.Phase == "capture" {
			return SeverityRuntimeFatal
		}
		return SeverityStartupFatal
	case ErrCodeRuntimeWarn:
		return SeverityRuntimeWarn
	default:
		return SeverityRuntimeFatal
	}
}

// Severity classifies an Error per the startup-fatal / startup-degraded /
// runtime-fatal / runtime-warn taxonomy.
type Severity int

const (
	SeverityStartupFatal Severity = iota
	SeverityDegraded
	SeverityRuntimeFatal
	SeverityRuntimeWarn
)

// ErrCode represents high-level error categories.
type ErrCode string

const (
	ErrCodeValidation         ErrCode = "invalid configuration"
	ErrCodeDeviceNotFound     ErrCode = "ib device not found"
	ErrCodeQPTransition       ErrCode = "queue pair state transition failed"
	ErrCodeFlowSteerDegraded  ErrCode = "flow steering unavailable, running promiscuous"
	ErrCodeMRFallback         ErrCode = "whole-ring memory registration failed, using per-block"
	ErrCodeKernelNotSupported ErrCode = "RDMA verbs not supported"
	ErrCodePermissionDenied   ErrCode = "permission denied"
	ErrCodeInsufficientMemory ErrCode = "insufficient memory"
	ErrCodeIOError            ErrCode = "I/O error"
	ErrCodeTimeout            ErrCode = "timeout"
	ErrCodeRingUnavailable    ErrCode = "ring unavailable"
	ErrCodeRuntimeWarn        ErrCode = "runtime warning"
)

// NewError creates a new structured error.
func NewError(op, phase string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Phase: phase, Device: -1, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying a kernel errno.
func NewErrorWithErrno(op, phase string, errno syscall.Errno) *Error {
	return &Error{Op: op, Phase: phase, Device: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error()}
}

// NewDeviceError creates a new error scoped to an IB device index.
func NewDeviceError(op, phase string, device int, code ErrCode, msg string) *Error {
	return &Error{Op: op, Phase: phase, Device: device, Code: code, Msg: msg}
}

// WrapError wraps an existing error with rocecap context.
func WrapError(op, phase string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if re, ok := inner.(*Error); ok {
		return &Error{Op: op, Phase: phase, Device: re.Device, Code: re.Code, Errno: re.Errno, Msg: re.Msg, Inner: re.Inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Phase: phase, Device: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Phase: phase, Device: -1, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps syscall errno to rocecap error codes.
func mapErrnoToCode(errno syscall.Errno) ErrCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV:
		return ErrCodeDeviceNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeValidation
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeKernelNotSupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}

// ErrBlockSizeMismatch is returned by Params.Validate when block_size is
// not an exact multiple of pkt_size*send_n. Accepting such a ring would
// publish blocks with an uninitialized tail, so the configuration is
// rejected outright at startup.
var ErrBlockSizeMismatch = capture.ErrBlockSizeMismatch
