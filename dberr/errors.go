// Package dberr holds the error kinds returned across the storage engine
// boundary. Compare with errors.Is against the Err* sentinels:
//
//	if errors.Is(err, dberr.ErrRevisionConflict) { ... }
package dberr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindOutOfMemory
	KindFilesystemFull
	KindNoJournalSpace
	KindLockTimeout
	KindDeadlock
	KindRevisionConflict
	KindUniqueConstraintViolated
	KindKeyNotFound
	KindCorruptDatafile
	KindDocumentKeyBad
	KindDatafileSealed
	KindDatafileFull
	KindCollectionClosed
	KindCollectionNotFound
	KindCollectionExists
	KindIndexExists
	KindIndexNotFound
	KindLockUpgrade
	KindTransactionFinished
	KindBadParameter
)

var kindNames = map[Kind]string{
	KindInternal:                 "internal error",
	KindOutOfMemory:              "out of memory",
	KindFilesystemFull:           "filesystem full",
	KindNoJournalSpace:           "no journal space",
	KindLockTimeout:              "lock timeout",
	KindDeadlock:                 "deadlock detected",
	KindRevisionConflict:         "revision conflict",
	KindUniqueConstraintViolated: "unique constraint violated",
	KindKeyNotFound:              "document not found",
	KindCorruptDatafile:          "corrupt datafile",
	KindDocumentKeyBad:           "illegal document key",
	KindDatafileSealed:           "datafile sealed",
	KindDatafileFull:             "datafile full",
	KindCollectionClosed:         "collection closed",
	KindCollectionNotFound:       "collection not found",
	KindCollectionExists:         "collection already exists",
	KindIndexExists:              "index already exists",
	KindIndexNotFound:            "index not found",
	KindLockUpgrade:              "cannot upgrade read lock to write lock",
	KindTransactionFinished:      "transaction already finished",
	KindBadParameter:             "bad parameter",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when target is a bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

var (
	ErrInternal                 = &Error{Kind: KindInternal}
	ErrOutOfMemory              = &Error{Kind: KindOutOfMemory}
	ErrFilesystemFull           = &Error{Kind: KindFilesystemFull}
	ErrNoJournalSpace           = &Error{Kind: KindNoJournalSpace}
	ErrLockTimeout              = &Error{Kind: KindLockTimeout}
	ErrDeadlock                 = &Error{Kind: KindDeadlock}
	ErrRevisionConflict         = &Error{Kind: KindRevisionConflict}
	ErrUniqueConstraintViolated = &Error{Kind: KindUniqueConstraintViolated}
	ErrKeyNotFound              = &Error{Kind: KindKeyNotFound}
	ErrCorruptDatafile          = &Error{Kind: KindCorruptDatafile}
	ErrDocumentKeyBad           = &Error{Kind: KindDocumentKeyBad}
	ErrDatafileSealed           = &Error{Kind: KindDatafileSealed}
	ErrDatafileFull             = &Error{Kind: KindDatafileFull}
	ErrCollectionClosed         = &Error{Kind: KindCollectionClosed}
	ErrCollectionNotFound       = &Error{Kind: KindCollectionNotFound}
	ErrCollectionExists         = &Error{Kind: KindCollectionExists}
	ErrIndexExists              = &Error{Kind: KindIndexExists}
	ErrIndexNotFound            = &Error{Kind: KindIndexNotFound}
	ErrLockUpgrade              = &Error{Kind: KindLockUpgrade}
	ErrTransactionFinished      = &Error{Kind: KindTransactionFinished}
	ErrBadParameter             = &Error{Kind: KindBadParameter}
)

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps err reachable through errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns KindInternal for errors that carry no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsResource(err error) bool {
	switch KindOf(err) {
	case KindOutOfMemory, KindFilesystemFull, KindNoJournalSpace:
		return true
	}
	return false
}

func IsConcurrency(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindDeadlock:
		return true
	}
	return false
}

func IsIntegrity(err error) bool {
	switch KindOf(err) {
	case KindRevisionConflict, KindUniqueConstraintViolated, KindKeyNotFound:
		return true
	}
	return false
}
