package protocol

import (
	"strings"
	"testing"
)

func TestParseSignIn(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"signIn","name":"alice"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Type != TypeSignIn || msg.Name != "alice" {
		t.Fatalf("msg=%+v", msg)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{oops`},
		{name: "unknown field", data: `{"type":"signIn","name":"alice","extra":1}`},
		{name: "trailing data", data: `{"type":"signIn","name":"alice"}{"type":"leave"}`},
		{name: "unknown type", data: `{"type":"mystery"}`},
		{name: "outbound type", data: `{"type":"presenceList","users":["alice"]}`},
		{name: "signIn without name", data: `{"type":"signIn"}`},
		{name: "callRequest without to", data: `{"type":"callRequest","from":"alice"}`},
		{name: "callDecline without name", data: `{"type":"callDecline"}`},
		{name: "sessionOffer without payload", data: `{"type":"sessionOffer","to":"bob"}`},
		{name: "statusUpdate empty", data: `{"type":"statusUpdate"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Fatalf("Parse(%s) succeeded, want error", tt.data)
			}
		})
	}
}

func TestParsePreservesPayloadVerbatim(t *testing.T) {
	raw := `{"type":"sessionOffer","to":"bob","payload":{"sdp":"v=0\r\no=- 42","custom":[1,2,3]}}`
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(string(msg.Payload), `"custom":[1,2,3]`) {
		t.Fatalf("payload=%s, want untouched contents", msg.Payload)
	}
}

func TestParseStatusUpdatePartial(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"statusUpdate","video":false}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	patch := msg.StatusPatch()
	if patch.Video == nil || *patch.Video {
		t.Fatalf("patch=%+v, want video=false", patch)
	}
	if patch.Audio != nil || patch.ScreenSharing != nil {
		t.Fatalf("patch=%+v, absent fields must stay nil", patch)
	}
}

func TestStatusPatchApply(t *testing.T) {
	v := false
	s := DefaultMediaStatus()
	got := StatusPatch{Video: &v}.Apply(s)
	if got.Video || !got.Audio || got.ScreenSharing {
		t.Fatalf("got=%+v, want only video changed", got)
	}
	// Empty patch is the identity.
	if got := (StatusPatch{}).Apply(s); got != s {
		t.Fatalf("got=%+v, want %+v", got, s)
	}
}

func TestDefaultMediaStatus(t *testing.T) {
	s := DefaultMediaStatus()
	if !s.Video || !s.Audio || s.ScreenSharing {
		t.Fatalf("default=%+v, want video+audio on, screen sharing off", s)
	}
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	data, err := Encode(Message{Type: TypePartnerLeft, Name: "bob"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := string(data)
	if got != `{"type":"partnerLeft","name":"bob"}` {
		t.Fatalf("encoded=%s", got)
	}
}
