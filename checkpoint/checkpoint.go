// Package checkpoint provides a way to decorate errors by some additional caller information
// which results in something similar to a stacktrace.
// Each error added to a checkpoint can be checked by errors.Is and retrieved by errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From just wraps an error by a new checkpoint which adds some caller information to the error.
// It returns nil, if err == nil.
func From(err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == io.EOF {
		return io.EOF
	}

	if err == nil {
		return nil
	}

	return newCheckpoint(err, nil)
}

// Wrap adds a checkpoint with some caller information from an error and accepts
// also another error which can further describe the checkpoint.
// Returns nil if prev == nil.
// If err is nil, it still creates a checkpoint.
// This allows for example to predefine some errors and use them later:
//  var(
//  		ErrSomethingSpecialWentWrong = errors.New("a very bad error")
//  )
//  func someFunction() error {
//  	err := somethingOtherThatThrowsErrors()
//  	return checkpoint.Wrap(err, ErrSomethingSpecialWentWrong)
//  }
//
//  err := someFunction()
// If used that way, you can still check with errors.Is() for the ErrSomethingSpecialWentWrong
//  if errors.Is(err, ErrSomethingSpecialWentWrong) {
//  	fmt.Println("The special error was thrown")
//  } else {
//  	fmt.Println(err)
//  }
// but also for the error returned by somethingOtherThatThrowsErrors() (if you know what error it is).
func Wrap(prev, err error) error {
	if prev == io.EOF {
		return io.EOF
	}

	if prev == nil {
		return nil
	}

	return newCheckpoint(prev, err)
}

// Wrapf works like Wrap but builds the describing error from a format string.
func Wrapf(prev error, format string, args ...interface{}) error {
	if prev == io.EOF {
		return io.EOF
	}

	if prev == nil {
		return nil
	}

	return newCheckpoint(prev, fmt.Errorf(format, args...))
}

// newCheckpoint must only be called directly by the exported functions
// as it skips exactly their stack frame.
func newCheckpoint(prev, err error) *checkpoint {
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:  err,
		prev: prev,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	// err describes the checkpoint, it may be nil.
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) Error() string {
	// Use different formatting for the prev error if it was not also a checkpoint.
	prevErrString := e.prev.Error()
	if _, ok := e.prev.(*checkpoint); !ok {
		prevErrString = "File: unknown\n\t" + strings.ReplaceAll(prevErrString, "\n", "\n\t")
	}

	location := "unknown"
	if e.callerOk {
		location = fmt.Sprintf("%s:%d", e.file, e.line)
	}

	if e.err == nil {
		return fmt.Sprintf("File: %s\n%v", location, prevErrString)
	}
	return fmt.Sprintf("File: %s\n\t%v\n%v", location, e.err, prevErrString)
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	if e.err == nil {
		return false
	}
	return errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	if e.err == nil {
		return false
	}
	return errors.As(e.err, target)
}
