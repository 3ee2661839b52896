package doryerr

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewIoFailed("dial backend", cause)

	if !errors.Is(err, cause) {
		t.Errorf("want errors.Is to find wrapped cause")
	}

	var asErr *Error
	if !errors.As(err, &asErr) {
		t.Fatalf("want errors.As to match *Error")
	}
	if asErr.Code != IoFailed {
		t.Errorf("want code %v, got %v", IoFailed, asErr.Code)
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	err := NewConfigInvalid("block size %d not in {512, 4096}", 1024)
	want := "ConfigInvalid: block size 1024 not in {512, 4096}"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
