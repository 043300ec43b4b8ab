// Package apkerr defines the error types returned by the package database
// engine. Callers inspect them with errors.As; the sentinels with errors.Is.
package apkerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/models"
)

var (
	// ErrBusy is returned when a mutating transaction is requested while
	// another one is in flight.
	ErrBusy = errors.New("another transaction is in progress")

	// ErrReadOnly is returned for mutations on a database opened read-only.
	ErrReadOnly = errors.New("database is opened read-only")

	// ErrNotOpen is returned when the database has not been opened.
	ErrNotOpen = errors.New("database is not open")
)

// ParseError reports a malformed name spec or repository line.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid spec %q: %s", e.Input, e.Reason)
}

// NotFoundError reports a package name unknown to every index and the installed set.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no such package: %s", e.Name)
}

// Conflict names a package the solver could not place and why.
type Conflict struct {
	Name   string
	Reason string
}

// UnsatisfiableError reports that no package selection satisfies the world.
type UnsatisfiableError struct {
	Conflicts []Conflict
}

func (e *UnsatisfiableError) Error() string {
	if len(e.Conflicts) == 0 {
		return "unable to select packages"
	}
	var b strings.Builder
	b.WriteString("unable to select packages:")
	for _, c := range e.Conflicts {
		fmt.Fprintf(&b, "\n  %s: %s", c.Name, c.Reason)
	}
	return b.String()
}

// PolicyError reports an operation refused by installation policy.
type PolicyError struct {
	Spec   string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Spec, e.Reason)
}

// FetchError reports a failure downloading a repository index or archive.
type FetchError struct {
	URL  string
	Code Code
	Err  error
}

// NewFetchError wraps err and classifies it.
func NewFetchError(url string, err error) *FetchError {
	return &FetchError{URL: url, Code: Classify(err), Err: err}
}

func (e *FetchError) Error() string {
	if msg := e.Code.Message(); msg != "" {
		return fmt.Sprintf("%s: %s", e.URL, msg)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TrustError reports a failed signature or archive verification.
type TrustError struct {
	Subject string
	Code    Code
	Err     error
}

// NewTrustError wraps err and classifies it.
func NewTrustError(subject string, err error) *TrustError {
	return &TrustError{Subject: subject, Code: Classify(err), Err: err}
}

func (e *TrustError) Error() string {
	if msg := e.Code.Message(); msg != "" {
		return fmt.Sprintf("%s: %s", e.Subject, msg)
	}
	return fmt.Sprintf("%s: %v", e.Subject, e.Err)
}

func (e *TrustError) Unwrap() error { return e.Err }

// InstallError reports a failure of the package installer for one package.
type InstallError struct {
	Name    string
	Version string
	Op      string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s %s-%s: %v", e.Op, e.Name, e.Version, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// FailureKind tells why a changeset item did not apply.
type FailureKind string

const (
	FailureError    FailureKind = "error"    // the installer returned an error
	FailureSkipped  FailureKind = "skipped"  // a dependency or replacement failed first
	FailureCanceled FailureKind = "canceled" // the context was canceled before the item ran
)

// Failure describes one changeset item that did not apply.
type Failure struct {
	Name    string
	Version string
	Action  string
	Kind    FailureKind
	Err     error
}

// CommitError reports the items of a changeset that did not apply. Items not
// listed were applied and remain applied; a commit is never rolled back.
type CommitError struct {
	Total    int
	Failures []Failure
}

func (e *CommitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d changes failed", len(e.Failures), e.Total)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s %s-%s (%s): %v", f.Action, f.Name, f.Version, f.Kind, f.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying installer errors.
func (e *CommitError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// MissingRepoTagsError reports world constraints pinned to tags that no
// loaded repository provides.
type MissingRepoTagsError struct {
	Tags []string
}

func (e *MissingRepoTagsError) Error() string {
	return "Missing repository tags: " + strings.Join(e.Tags, ", ")
}

// RefreshError is returned when every repository failed to refresh.
type RefreshError struct {
	Report *models.RefreshReport
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh %d repositories", e.Report.Errors)
}

// Unwrap exposes the per-repository errors.
func (e *RefreshError) Unwrap() []error {
	var errs []error
	for _, r := range e.Report.Repos {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
