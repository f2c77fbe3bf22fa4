package bully

import (
	werrors "github.com/pkg/errors"
)

// Errors are centralised here for the same reason metrics are: consistency is
// much easier to keep when the whole taxonomy is on one page.
//
// The package relies on pkg/errors to wrap causes from beneath without
// obscuring them. Errors originating inside the package use sentinel errors
// as cause, so callers can test programmatically with errors.Cause() while
// logs still carry the full context.
//
// Note the deliberate absence of any fatal category reachable from peer
// traffic: a peer that cannot be reached, times out, or sends junk is
// evidence for the failure detector, never a reason to come down. The only
// fatal errors are local ones (bad options, unusable sockets, unrecoverable
// client connections).

// Keyword for error field in logger...
const bullyErrKeyword = "err"
const bullySentinel = "errCode: "

// Error implements the error interface and represents sentinel errors for the
// bully package (as per https://dave.cheney.net/2016/04/07/constant-errors).
type Error string

func (e Error) Error() string { return string(e) }

// ErrBadMakeNodeOption is returned (extracted using errors.Cause(err)) if
// options provided at start up fail to apply.
const ErrBadMakeNodeOption = Error(bullySentinel + "bad MakeNode option")

// ErrBadLocalNodeIndex is returned (extracted using errors.Cause(err)) if the
// local node index provided is out-of-bounds of Nodes in the cluster.
const ErrBadLocalNodeIndex = Error(bullySentinel + "bad local node index")

// ErrMissingNodeConfig is returned (extracted using errors.Cause(err)) if
// NodeConfig options provided at start are expected but missing.
const ErrMissingNodeConfig = Error(bullySentinel + "node config insufficient")

// ErrMissingLogger is returned (extracted using errors.Cause(err)) if we
// tried and failed to set up a logger.
const ErrMissingLogger = Error(bullySentinel + "no logger setup")

// ErrServerNotSetup is the sentinel returned (extracted using
// errors.Cause(err)) if the local address (server side) is not set up when
// expected.
const ErrServerNotSetup = Error(bullySentinel + "local server side not set up yet")

// ErrClientConnectionUnrecoverable is the sentinel returned (extracted using
// errors.Cause(err)) if the gRPC client connection to a remote node failed in
// a way which cannot be retried; typically misconfigured dial options.
const ErrClientConnectionUnrecoverable = Error(
	bullySentinel + "gRPC client connection failed in an unrecoverable way. Check NodeConfig is correct.")

// ErrPeerUnreachable is the cause carried on results of outbound sends which
// failed or timed out. It is consumed inside the engine as evidence of peer
// death and never escapes past it.
const ErrPeerUnreachable = Error(bullySentinel + "peer unreachable or timed out")

// ErrStaleMessage is the cause attached when a result returns for an election
// round the engine has already left behind. Logged and dropped.
const ErrStaleMessage = Error(bullySentinel + "message from superseded election round")

// ErrProtocolViolation is the cause attached to inbound messages which make
// no sense for the receiving role (e.g. a COLOR assignment arriving at the
// master). Dropped and logged, never crashes the engine.
const ErrProtocolViolation = Error(bullySentinel + "malformed or misdirected protocol message")

// bullyErrorf is a simple wrapper which ensures that all package errors are
// prefixed consistently, and that we always either wrap a root cause error
// bubbling up from packages beneath, or a sentinel error from above.
func bullyErrorf(rootCause error, format string, args ...interface{}) error {
	return werrors.WithMessagef(rootCause, "bully: "+format, args...)
}
