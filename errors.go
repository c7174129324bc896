package actormesh

import "github.com/arkeep-io/actormesh/internal/rpcerr"

// Sentinel errors callers can check with errors.Is.
var (
	ErrNoPeers         = rpcerr.ErrNoPeers
	ErrFailedToUpgrade = rpcerr.ErrFailedToUpgrade
)

// Struct error types a caller may want to type-switch on.
type (
	NoChannelToNode               = rpcerr.NoChannelToNode
	MissingNodeID                 = rpcerr.MissingNodeID
	ResolveFailedToMatchActorType = rpcerr.ResolveFailedToMatchActorType
	ResolveFailed                 = rpcerr.ResolveFailed
	FailedDecodingResponse        = rpcerr.FailedDecodingResponse
	DecodingError                 = rpcerr.DecodingError
)
