// Package actormesh implements a distributed actor runtime: location-
// transparent objects that call each other by identity over a WebSocket
// transport, whether the target lives in-process or across the network.
//
// A System is either a client — one outbound channel to a server, redialed
// with backoff on failure — or a server — accepting channels from many
// clients and routing by the node each one self-identifies as. Either way,
// actors register with a Registry, calls cross the wire as JSON envelopes,
// and RemoteCall suspends its caller until a matching reply arrives or the
// call times out.
//
// See cmd/actormesh-demo for a minimal client/server pair.
package actormesh
