package wire

import (
	"testing"

	"github.com/arkeep-io/actormesh/internal/identity"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	node := identity.NewNodeID()
	sender := identity.NewActorID(node)

	cases := []struct {
		name string
		env  WireEnvelope
		tag  Tag
	}{
		{
			name: "call",
			env: CallEnvelope(RemoteCallEnvelope{
				CallID:           identity.NewCallID(),
				Recipient:        identity.NewActorID(node),
				InvocationTarget: "Greeter.greet",
				GenericSubs:      []string{"string"},
				Args:             [][]byte{[]byte(`"hello"`)},
			}),
			tag: TagCall,
		},
		{
			name: "reply",
			env: ReplyEnvelopeTag(ReplyEnvelope{
				CallID: identity.NewCallID(),
				Sender: &sender,
				Value:  []byte(`"world"`),
			}),
			tag: TagReply,
		},
		{
			name: "connectionClose",
			env:  ConnectionCloseEnvelope(),
			tag:  TagConnectionClose,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.env)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Tag() != tc.tag {
				t.Fatalf("Tag() = %v, want %v", got.Tag(), tc.tag)
			}
		})
	}
}

func TestDecodeUnknownTagIsNotAnError(t *testing.T) {
	got, err := Decode([]byte(`{"somethingFuture": {}}`))
	if err != nil {
		t.Fatalf("Decode returned error for forward-compatible frame: %v", err)
	}
	if got.Tag() != TagUnknown {
		t.Fatalf("Tag() = %v, want TagUnknown", got.Tag())
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error decoding malformed json")
	}
}

func TestInvocationDecoderRoundTrip(t *testing.T) {
	arg1, err := EncodeArgument("hello")
	if err != nil {
		t.Fatalf("EncodeArgument: %v", err)
	}
	arg2, err := EncodeArgument(42)
	if err != nil {
		t.Fatalf("EncodeArgument: %v", err)
	}

	dec := NewInvocationDecoder([]string{"string", "int"}, [][]byte{arg1, arg2})

	s, err := DecodeNextArgument[string](dec)
	if err != nil {
		t.Fatalf("DecodeNextArgument[string]: %v", err)
	}
	if s != "hello" {
		t.Fatalf("got %q, want %q", s, "hello")
	}

	n, err := DecodeNextArgument[int](dec)
	if err != nil {
		t.Fatalf("DecodeNextArgument[int]: %v", err)
	}
	if n != 42 {
		t.Fatalf("got %d, want %d", n, 42)
	}

	if _, err := DecodeNextArgument[int](dec); err == nil {
		t.Fatal("expected NotEnoughArgumentsInEnvelope once args are exhausted")
	}
}
