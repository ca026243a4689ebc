// Package rerr defines the structured error type surfaced across the
// scheduler, wait primitives, and async operations. Every error that
// crosses an L4 boundary is a *rerr.Error so that user code can recover on
// a code name alone, e.g. `errors.Is(err, rerr.TimedOut)` or
// `errors.Is(err, rerr.Sentinel(rerr.ETIMEDOUT))`.
package rerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code identifies the kind of failure. It is string-backed so that
// errors.Is can match an *Error against any other *Error carrying the same
// Code (such as Sentinel(code)), without requiring callers to unwrap into
// the struct.
type Code string

// OS-mapped codes, as listed in the external interfaces section.
const (
	EACCES          Code = "EACCES"
	EAFNOSUPPORT    Code = "EAFNOSUPPORT"
	EINVAL          Code = "EINVAL"
	EMFILE          Code = "EMFILE"
	ENFILE          Code = "ENFILE"
	ENOBUFS         Code = "ENOBUFS"
	ENOMEM          Code = "ENOMEM"
	EPROTONOSUPPORT Code = "EPROTONOSUPPORT"
	EAGAIN          Code = "EAGAIN"
	EWOULDBLOCK     Code = "EWOULDBLOCK"
	EBADF           Code = "EBADF"
	ECONNABORTED    Code = "ECONNABORTED"
	EFAULT          Code = "EFAULT"
	EINTR           Code = "EINTR"
	ENOTSOCK        Code = "ENOTSOCK"
	EOPNOTSUPP      Code = "EOPNOTSUPP"
	EPROTO          Code = "EPROTO"
	EPERM           Code = "EPERM"
	EADDRINUSE      Code = "EADDRINUSE"
	EADDRNOTAVAIL   Code = "EADDRNOTAVAIL"
	ELOOP           Code = "ELOOP"
	ENAMETOOLONG    Code = "ENAMETOOLONG"
	ENOENT          Code = "ENOENT"
	ENOTDIR         Code = "ENOTDIR"
	EROFS           Code = "EROFS"
	EALREADY        Code = "EALREADY"
	ECONNREFUSED    Code = "ECONNREFUSED"
	EINPROGRESS     Code = "EINPROGRESS"
	EISCONN         Code = "EISCONN"
	ENETUNREACH     Code = "ENETUNREACH"
	ETIMEDOUT       Code = "ETIMEDOUT"
	ECONNRESET      Code = "ECONNRESET"
	EDESTADDRREQ    Code = "EDESTADDRREQ"
	EMSGSIZE        Code = "EMSGSIZE"
	ENOTCONN        Code = "ENOTCONN"
	EPIPE           Code = "EPIPE"
	ENODEV          Code = "ENODEV"
	ENOTSUP         Code = "ENOTSUP"

	// scheduler-specific
	DEADLOCK Code = "DEADLOCK"
	ALARM    Code = "ALARM"
	SSLERROR Code = "SSLERROR"
	SSLEOF   Code = "SSLEOF"

	// DNS-specific
	BADQUERY Code = "BADQUERY"
	TEMPFAIL Code = "TEMPFAIL"
	PROTOCOL Code = "PROTOCOL"
	NXDOMAIN Code = "NXDOMAIN"
	NODATA   Code = "NODATA"
	NOMEM    Code = "NOMEM"
)

// Error is the structured error value surfaced to user code. It carries
// enough provenance to debug a failure without needing a stack trace
// library: the code name, the function that raised it, and (for
// OS-boundary errors) the syscall and errno that produced it.
type Error struct {
	Code    Code
	Message string
	Func    string
	Syscall string
	Errno   syscall.Errno
	File    string
	Line    int
}

// New constructs an *Error with the given code, originating function name,
// and message.
func New(code Code, fn, message string) *Error {
	return &Error{Code: code, Func: fn, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting of message.
func Newf(code Code, fn, format string, args ...any) *Error {
	return New(code, fn, fmt.Sprintf(format, args...))
}

// FromErrno maps a syscall.Errno returned by a specific syscall to a
// structured *Error, choosing the Code that matches the errno's standard
// meaning. Unrecognized errnos fall back to a Code equal to the errno's
// own string form so no information is lost.
func FromErrno(fn, syscallName string, errno syscall.Errno) *Error {
	code, ok := errnoCodes[errno]
	if !ok {
		code = Code(errno.Error())
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("%s: %s", syscallName, errno.Error()),
		Func:    fn,
		Syscall: syscallName,
		Errno:   errno,
	}
}

var errnoCodes = map[syscall.Errno]Code{
	syscall.EACCES:          EACCES,
	syscall.EAFNOSUPPORT:    EAFNOSUPPORT,
	syscall.EINVAL:          EINVAL,
	syscall.EMFILE:          EMFILE,
	syscall.ENFILE:          ENFILE,
	syscall.ENOBUFS:         ENOBUFS,
	syscall.ENOMEM:          ENOMEM,
	syscall.EPROTONOSUPPORT: EPROTONOSUPPORT,
	syscall.EAGAIN:          EAGAIN,
	syscall.EBADF:           EBADF,
	syscall.ECONNABORTED:    ECONNABORTED,
	syscall.EFAULT:          EFAULT,
	syscall.EINTR:           EINTR,
	syscall.ENOTSOCK:        ENOTSOCK,
	syscall.EOPNOTSUPP:      EOPNOTSUPP,
	syscall.EPROTO:          EPROTO,
	syscall.EPERM:           EPERM,
	syscall.EADDRINUSE:      EADDRINUSE,
	syscall.EADDRNOTAVAIL:   EADDRNOTAVAIL,
	syscall.ELOOP:           ELOOP,
	syscall.ENAMETOOLONG:    ENAMETOOLONG,
	syscall.ENOENT:          ENOENT,
	syscall.ENOTDIR:         ENOTDIR,
	syscall.EROFS:           EROFS,
	syscall.EALREADY:        EALREADY,
	syscall.ECONNREFUSED:    ECONNREFUSED,
	syscall.EINPROGRESS:     EINPROGRESS,
	syscall.EISCONN:         EISCONN,
	syscall.ENETUNREACH:     ENETUNREACH,
	syscall.ETIMEDOUT:       ETIMEDOUT,
	syscall.ECONNRESET:      ECONNRESET,
	syscall.EDESTADDRREQ:    EDESTADDRREQ,
	syscall.EMSGSIZE:        EMSGSIZE,
	syscall.ENOTCONN:        ENOTCONN,
	syscall.EPIPE:           EPIPE,
	syscall.ENODEV:          ENODEV,
}

// ENOTSUP and EOPNOTSUPP share one errno value on some platforms (linux),
// where that value maps to EOPNOTSUPP; ENOTSUP is added only where it is a
// distinct errno.
func init() {
	if _, dup := errnoCodes[syscall.ENOTSUP]; !dup {
		errnoCodes[syscall.ENOTSUP] = ENOTSUP
	}
}

func (e *Error) Error() string {
	if e.Syscall != "" {
		return fmt.Sprintf("%s: %s (%s, %s)", e.Func, e.Message, e.Code, e.Syscall)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Func, e.Message, e.Code)
}

// Is lets errors.Is(err, rerr.TimedOut) work: it reports whether target is
// an *Error (for example a bare Code wrapped by Sentinel) with the same Code
// as e.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Unwrap exposes no wrapped error today; reserved for future chaining.
func (e *Error) Unwrap() error { return nil }

// Sentinel wraps a bare Code as an error so callers can write
// errors.Is(err, rerr.Sentinel(rerr.ETIMEDOUT)) — most call sites instead
// use the package-level *Error sentinels below, which is terser.
func Sentinel(code Code) error { return &Error{Code: code} }

// Package-level sentinels for the common comparison idiom:
//
//	if errors.Is(err, rerr.TimedOut) { ... }
var (
	TimedOut = Sentinel(ETIMEDOUT)
	Deadlock = Sentinel(DEADLOCK)
	AlarmErr = Sentinel(ALARM)
)
