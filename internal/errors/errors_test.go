// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestIsKind(t *testing.T) {
	err := Errorf(KindNotFound, "link %d not tracked", 7)
	if !IsKind(err, KindNotFound) {
		t.Error("expected KindNotFound")
	}
	if IsKind(err, KindTimeout) {
		t.Error("did not expect KindTimeout")
	}
	if IsKind(nil, KindUnknown) != true {
		t.Error("nil error has KindUnknown")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindInternal, "nothing") != nil {
		t.Error("wrapping nil should return nil")
	}
	if Wrapf(nil, KindInternal, "nothing %d", 1) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestUnwrapChain(t *testing.T) {
	base := errors.New("socket closed")
	wrapped := Wrap(base, KindUnavailable, "netlink subscription lost")

	if !Is(wrapped, base) {
		t.Error("expected wrapped error to match base via Is")
	}
	if Unwrap(Unwrap(wrapped)) != nil {
		t.Error("expected chain to terminate")
	}
}
