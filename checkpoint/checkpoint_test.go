package checkpoint

import (
	"errors"
	"io"
	"strings"
	"testing"
)

var (
	errCause       = errors.New("the cause")
	errDescription = errors.New("the description")
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
		wantIs  []error
	}{
		{
			name:    "nil stays nil",
			err:     nil,
			wantNil: true,
		},
		{
			name:   "io.EOF is returned directly",
			err:    io.EOF,
			wantIs: []error{io.EOF},
		},
		{
			name:   "any other error",
			err:    errCause,
			wantIs: []error{errCause},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			if (got == nil) != tt.wantNil {
				t.Fatalf("From() = %v, wantNil %v", got, tt.wantNil)
			}
			for _, target := range tt.wantIs {
				if !errors.Is(got, target) {
					t.Errorf("From() = %v, should be %v", got, target)
				}
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if got := Wrap(nil, errDescription); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}

	if got := Wrap(io.EOF, errDescription); got != io.EOF {
		t.Errorf("Wrap(io.EOF) = %v, want io.EOF", got)
	}

	got := Wrap(errCause, errDescription)
	if !errors.Is(got, errCause) {
		t.Errorf("Wrap() = %v, should be the cause", got)
	}
	if !errors.Is(got, errDescription) {
		t.Errorf("Wrap() = %v, should be the description", got)
	}
	if !strings.Contains(got.Error(), "checkpoint_test.go") {
		t.Errorf("Wrap() = %v, should contain the caller file", got)
	}
}

func TestWrapf(t *testing.T) {
	got := Wrapf(errCause, "while reading cluster %d", 5)
	if !errors.Is(got, errCause) {
		t.Errorf("Wrapf() = %v, should be the cause", got)
	}
	if !strings.Contains(got.Error(), "while reading cluster 5") {
		t.Errorf("Wrapf() = %v, should contain the message", got)
	}
}
