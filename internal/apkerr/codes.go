package apkerr

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/kilupskalvis/apkdb/internal/fetch"
	"github.com/kilupskalvis/apkdb/internal/trust"
)

// Code classifies fetch and trust failures. Values follow Linux errno
// numbering so they line up with what apk-tools reports; the EAPK codes
// are private to the package manager.
type Code int

const (
	OK             Code = 0
	ENOENT         Code = 2
	EIO            Code = 5
	ENXIO          Code = 6
	EAGAIN         Code = 11
	ENOMSG         Code = 42
	ENOPKG         Code = 65
	EBADMSG        Code = 74
	ENETUNREACH    Code = 101
	ECONNABORTED   Code = 103
	ETIMEDOUT      Code = 110
	ECONNREFUSED   Code = 111
	EREMOTEIO      Code = 121
	ENOKEY         Code = 126
	EKEYREJECTED   Code = 129
	EAPKBADURL     Code = 1024
	EAPKSTALEINDEX Code = 1025
	EUNKNOWN       Code = -1
)

var codeNames = map[Code]string{
	OK:             "OK",
	ENOENT:         "ENOENT",
	EIO:            "EIO",
	ENXIO:          "ENXIO",
	EAGAIN:         "EAGAIN",
	ENOMSG:         "ENOMSG",
	ENOPKG:         "ENOPKG",
	EBADMSG:        "EBADMSG",
	ENETUNREACH:    "ENETUNREACH",
	ECONNABORTED:   "ECONNABORTED",
	ETIMEDOUT:      "ETIMEDOUT",
	ECONNREFUSED:   "ECONNREFUSED",
	EREMOTEIO:      "EREMOTEIO",
	ENOKEY:         "ENOKEY",
	EKEYREJECTED:   "EKEYREJECTED",
	EAPKBADURL:     "EAPKBADURL",
	EAPKSTALEINDEX: "EAPKSTALEINDEX",
	EUNKNOWN:       "EUNKNOWN",
}

var codeMessages = map[Code]string{
	OK:             "OK",
	ENOENT:         "no such file or directory",
	EIO:            "IO ERROR",
	ENXIO:          "DNS lookup error",
	EAGAIN:         "temporary error (try again later)",
	ENOMSG:         "archive does not contain expected data",
	ENOPKG:         "could not find a repo which provides this package (check repositories file and run 'apk update')",
	EBADMSG:        "BAD archive",
	ENETUNREACH:    "network error (check Internet connection and firewall)",
	ECONNABORTED:   "network connection aborted",
	ETIMEDOUT:      "operation timed out",
	ECONNREFUSED:   "could not connect to server (check repositories file)",
	EREMOTEIO:      "remote server returned error (try 'apk update')",
	ENOKEY:         "UNTRUSTED signature",
	EKEYREJECTED:   "BAD signature",
	EAPKBADURL:     "invalid URL (check your repositories file)",
	EAPKSTALEINDEX: "package mentioned in index not found (try 'apk update')",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "EUNKNOWN"
}

// Message returns the user-facing description of the code. Unknown codes
// have no curated message and return "".
func (c Code) Message() string {
	return codeMessages[c]
}

// Classify maps an underlying error onto a Code. Errors that carry a code
// themselves (FetchError, TrustError) return it unchanged.
func Classify(err error) Code {
	if err == nil {
		return OK
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	var te *TrustError
	if errors.As(err, &te) {
		return te.Code
	}

	switch {
	case errors.Is(err, fetch.ErrBadURL):
		return EAPKBADURL
	case errors.Is(err, fetch.ErrNotFound):
		return ENOENT
	case errors.Is(err, fetch.ErrRateLimited):
		return EAGAIN
	case errors.Is(err, fetch.ErrUpstreamDown):
		return EREMOTEIO
	case errors.Is(err, trust.ErrUntrusted):
		return ENOKEY
	case errors.Is(err, trust.ErrBadSignature):
		return EKEYREJECTED
	case errors.Is(err, trust.ErrBadArchive):
		return EBADMSG
	case errors.Is(err, trust.ErrNoMetadata):
		return ENOMSG
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ETIMEDOUT
		}
		if dnsErr.IsTemporary {
			return EAGAIN
		}
		return ENXIO
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ETIMEDOUT
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ECONNREFUSED
	case errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ECONNABORTED
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return ENETUNREACH
	case errors.Is(err, syscall.ETIMEDOUT):
		return ETIMEDOUT
	case errors.Is(err, syscall.EAGAIN):
		return EAGAIN
	case errors.Is(err, syscall.EIO), errors.Is(err, io.ErrUnexpectedEOF):
		return EIO
	case errors.Is(err, os.ErrNotExist):
		return ENOENT
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	return EUNKNOWN
}
