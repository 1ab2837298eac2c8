package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrBadRequest,
		ErrInvalidTarget,
		ErrConflict,
		ErrBlocked,
		ErrUnsupported,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestDecodeBase(t *testing.T) {
	base, err := DecodeBase([]byte(`{"type":"OBS","protocol_version":"0.9","tick":3}`))
	if err != nil {
		t.Fatalf("DecodeBase: %v", err)
	}
	if base.Type != TypeObs || !IsSupportedVersion(base.ProtocolVersion) {
		t.Fatalf("unexpected base: %+v", base)
	}
	if _, err := DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}
