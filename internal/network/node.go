package network

import (
	tok "rete/internal/token"
	"rete/internal/value"
)

// NodeId identifies a node of the discrimination network.
type NodeId uint64

// FactSink receives fact assert/retract notifications from an AlphaNode's
// right-activation path (spec §4.3).
type FactSink interface {
	ReceiveFact(fact value.FactId, retract bool)
}

// TokenSink receives token assert/retract notifications from a beta or
// aggregation node's left-activation path (spec §4.4).
type TokenSink interface {
	ReceiveToken(t tok.Token, retract bool)
}
