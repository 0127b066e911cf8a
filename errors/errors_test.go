package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodeMatching(t *testing.T) {
	base := New(ErrClaimSequence, "unable to award a level without a hit")
	wrapped := fmt.Errorf("claim and award: %w", base)

	tests := []struct {
		name     string
		err      error
		code     int
		wantHas  bool
		wantCode int
	}{
		{name: "direct", err: base, code: ErrClaimSequence, wantHas: true, wantCode: ErrClaimSequence},
		{name: "wrapped", err: wrapped, code: ErrClaimSequence, wantHas: true, wantCode: ErrClaimSequence},
		{name: "different code", err: wrapped, code: ErrNotSupported, wantHas: false, wantCode: ErrClaimSequence},
		{name: "plain error", err: stderrors.New("boom"), code: ErrClaimSequence, wantHas: false, wantCode: ErrInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCode(tt.err, tt.code); got != tt.wantHas {
				t.Errorf("HasCode() = %v, want %v", got, tt.wantHas)
			}
			if got := GetCode(tt.err); got != tt.wantCode {
				t.Errorf("GetCode() = %d, want %d", got, tt.wantCode)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(New(ErrMissingMagicNumber, "missing")) {
		t.Errorf("missing magic number must be fatal")
	}
	if IsFatal(New(ErrNotSupported, "bulk increment")) {
		t.Errorf("not supported is a configuration mismatch, not a lockup")
	}
	if IsFatal(nil) {
		t.Errorf("nil must not be fatal")
	}
}

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[int]int{
		ErrLevelNotFound:        404,
		ErrClaimSequence:        409,
		ErrInvalidAssignment:    400,
		ErrProgressiveIntegrity: 500,
		ErrNotSupported:         422,
	}
	for code, want := range cases {
		if got := HTTPStatusFromCode(code); got != want {
			t.Errorf("HTTPStatusFromCode(%d) = %d, want %d", code, got, want)
		}
	}
}
