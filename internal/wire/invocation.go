package wire

import (
	"encoding/json"
	"fmt"

	"github.com/arkeep-io/actormesh/internal/rpcerr"
)

// InvocationDecoder walks the pre-encoded argument list of one
// RemoteCallEnvelope in order. A target's generated dispatch method calls
// DecodeNextArgument once per declared parameter; the core never interprets
// argument bytes itself — spec.md §3, §4.6.
type InvocationDecoder struct {
	genericSubs []string
	args        [][]byte
	cursor      int
}

// NewInvocationDecoder seeds a decoder from one call's genericSubs and args.
func NewInvocationDecoder(genericSubs []string, args [][]byte) *InvocationDecoder {
	return &InvocationDecoder{genericSubs: genericSubs, args: args}
}

// GenericSubs returns the generic type-substitution strings carried by the
// call, in declaration order.
func (d *InvocationDecoder) GenericSubs() []string {
	return d.genericSubs
}

// DecodeNextArgument decodes the next positional argument as T, advancing
// the cursor. Returns NotEnoughArgumentsInEnvelope once the args are
// exhausted.
func DecodeNextArgument[T any](d *InvocationDecoder) (T, error) {
	var zero T
	if d.cursor >= len(d.args) {
		return zero, &rpcerr.NotEnoughArgumentsInEnvelope{Expected: d.cursor + 1}
	}
	raw := d.args[d.cursor]
	d.cursor++
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, &rpcerr.DecodingError{Inner: fmt.Errorf("argument %d: %w", d.cursor-1, err)}
	}
	return v, nil
}

// EncodeArgument pre-encodes one call argument for inclusion in a
// RemoteCallEnvelope's Args.
func EncodeArgument(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &rpcerr.DecodingError{Inner: fmt.Errorf("encoding argument: %w", err)}
	}
	return b, nil
}

// ResultHandler is invoked by a dispatched target's generated code exactly
// once per call, with the outcome of executing it — spec.md §4.7.
type ResultHandler interface {
	// OnReturn encodes value and sends a Reply carrying it.
	OnReturn(value any) error
	// OnReturnVoid sends a Reply with an empty value.
	OnReturnVoid() error
	// OnThrow sends a Reply with an empty value — the error itself is not
	// (yet) carried over the wire; see the TODO on ReplyEnvelope.
	OnThrow(err error) error
}
