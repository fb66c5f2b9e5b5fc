// Package checkpoint provides a way to decorate errors by some additional caller information
// which results in something similar to a stacktrace.
// Each error added to a checkpoint can be checked by errors.Is and retrieved by errors.As.
//
// It also carries a Kind: the small, closed set of error categories the rest of
// this module distinguishes on (IoError, FormatError, CorruptChain, CorruptJournal,
// NoSpace, Busy). Kind travels with the checkpoint it was attached to and is found
// by walking the wrap chain, the same way errors.Is walks it.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// Kind is one of the error categories callers branch on.
type Kind int

const (
	// KindNone marks an error with no assigned kind.
	KindNone Kind = iota
	// KindIoError is an underlying read/write failure; the Volume that produced it
	// is poisoned and must not be used further.
	KindIoError
	// KindFormatError means the image is not a valid FAT volume.
	KindFormatError
	// KindCorruptChain means the FAT contains a cycle or points outside the data region.
	KindCorruptChain
	// KindCorruptJournal means journal replay failed its checksum; the tool refuses
	// to touch the image further and reports a manual-repair state.
	KindCorruptJournal
	// KindNoSpace means no contiguous allocation was possible and displacement was
	// exhausted; callers may continue with other files.
	KindNoSpace
	// KindBusy means another process holds the image's advisory lock.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindFormatError:
		return "FormatError"
	case KindCorruptChain:
		return "CorruptChain"
	case KindCorruptJournal:
		return "CorruptJournal"
	case KindNoSpace:
		return "NoSpace"
	case KindBusy:
		return "Busy"
	default:
		return "None"
	}
}

// From just wraps an error by a new checkpoint which adds some caller information to the error.
// It returns nil, if err == nil.
func From(err error) error {
	return newCheckpoint(nil, err, KindNone, 2)
}

// Wrap adds a checkpoint with some caller information from an error and accepts
// also another error which can further describe the checkpoint.
// Returns nil if prev == nil.
// If err is nil, it still creates a checkpoint.
// This allows for example to predefine some errors and use them later:
//
//	var(
//			ErrSomethingSpecialWentWrong = errors.New("a very bad error")
//	)
//	func someFunction() error {
//		err := somethingOtherThatThrowsErrors()
//		return checkpoint.Wrap(err, ErrSomethingSpecialWentWrong)
//	}
//
//	err := someFunction()
//
// If used that way, you can still check with errors.Is() for the ErrSomethingSpecialWentWrong
//
//	if errors.Is(err, ErrSomethingSpecialWentWrong) {
//		fmt.Println("The special error was thrown")
//	} else {
//		fmt.Println(err)
//	}
//
// but also for the error returned by somethingOtherThatThrowsErrors() (if you know what error it is).
// If the error in this example is nil, no checkpoint gets created.
func Wrap(prev, err error) error {
	if prev == nil {
		return nil
	}
	return newCheckpoint(prev, err, KindNone, 2)
}

// WithKind wraps prev the same way Wrap does and additionally tags the checkpoint
// with kind, so that KindOf(err) can later recover it. Returns nil if prev == nil.
func WithKind(prev error, kind Kind, err error) error {
	if prev == nil {
		return nil
	}
	return newCheckpoint(prev, err, kind, 2)
}

// FromKind is From with a kind attached directly to the new checkpoint, for the
// case where there is no lower-level error to wrap, only a sentinel and a kind
// (for example a range check that failed before any I/O was attempted).
func FromKind(kind Kind, err error) error {
	return newCheckpoint(nil, err, kind, 2)
}

func newCheckpoint(prev, err error, kind Kind, skip int) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if prev == io.EOF || err == io.EOF {
		return io.EOF
	}
	if prev == io.ErrUnexpectedEOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}

	// Get the caller information.
	_, file, line, ok := runtime.Caller(skip)

	return &checkpointErr{
		err:  err,
		prev: prev,
		kind: kind,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

// KindOf walks the wrap chain of err looking for the nearest checkpoint carrying a
// kind other than KindNone. Returns KindNone if err is nil or carries no kind.
func KindOf(err error) Kind {
	for err != nil {
		if cp, ok := err.(*checkpointErr); ok {
			if cp.kind != KindNone {
				return cp.kind
			}
			err = cp.prev
			continue
		}
		err = errors.Unwrap(err)
	}
	return KindNone
}

// Is reports whether KindOf(err) is kind: only the nearest kind in the wrap
// chain counts, so a kind hidden under a different outer kind is not found.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

type checkpointErr struct {
	err  error
	prev error
	kind Kind

	callerOk bool
	file     string
	line     int
}

func (e *checkpointErr) Error() string {
	prevErrString := "File: unknown\n\t<root>"
	if e.prev != nil {
		prevErrString = e.prev.Error()
		if _, ok := e.prev.(*checkpointErr); !ok {
			prevErrString = "File: unknown\n\t" + strings.ReplaceAll(prevErrString, "\n", "\n\t")
		}
	}

	location := "File: unknown"
	if e.callerOk {
		location = fmt.Sprintf("File: %s:%d", e.file, e.line)
	}

	if e.err == nil {
		return fmt.Sprintf("%s\n%v", location, prevErrString)
	}

	return fmt.Sprintf("%s\n\t%v\n%v", location, e.err, prevErrString)
}

func (e *checkpointErr) Unwrap() error {
	return e.prev
}

func (e *checkpointErr) Is(target error) bool {
	if e.err != nil && errors.Is(e.err, target) {
		return true
	}
	return false
}

func (e *checkpointErr) As(target interface{}) bool {
	if e.err != nil && errors.As(e.err, target) {
		return true
	}
	return false
}
