package maelnode

import "fmt"

// Maelstrom RPC error codes.
// https://github.com/jepsen-io/maelstrom/blob/main/doc/protocol.md#errors
const (
	Timeout                = 0
	NodeNotFound           = 1
	NotSupported           = 10
	TemporarilyUnavailable = 11
	MalformedRequest       = 12
	Crash                  = 13
	Abort                  = 14
	KeyDoesNotExist        = 20
	KeyAlreadyExists       = 21
	PreconditionFailed     = 22
	TxnConflict            = 30
)

// ErrorCodeText returns the text representation of an error code.
func ErrorCodeText(code int) string {
	switch code {
	case Timeout:
		return "Timeout"
	case NodeNotFound:
		return "NodeNotFound"
	case NotSupported:
		return "NotSupported"
	case TemporarilyUnavailable:
		return "TemporarilyUnavailable"
	case MalformedRequest:
		return "MalformedRequest"
	case Crash:
		return "Crash"
	case Abort:
		return "Abort"
	case KeyDoesNotExist:
		return "KeyDoesNotExist"
	case KeyAlreadyExists:
		return "KeyAlreadyExists"
	case PreconditionFailed:
		return "PreconditionFailed"
	case TxnConflict:
		return "TxnConflict"
	default:
		return fmt.Sprintf("ErrorCode<%d>", code)
	}
}

// IsDefinite reports whether an error code indicates that the operation
// definitely did not take effect. Timeout and Crash are indefinite: the
// outcome is unknown and a retry may double-apply an operation.
func IsDefinite(code int) bool {
	return code != Timeout && code != Crash
}

// ErrorCode returns the error code carried by err, or -1 if err is not an
// *RPCError.
func ErrorCode(err error) int {
	if rpcErr, ok := err.(*RPCError); ok {
		return rpcErr.Code
	}
	return -1
}

// RPCError represents a Maelstrom RPC error, either one returned by a
// handler (and converted into an "error" reply by the runtime) or one
// received from a peer in response to an RPC.
type RPCError struct {
	Code int
	Text string
}

// NewRPCError returns a new RPCError.
func NewRPCError(code int, text string) *RPCError {
	return &RPCError{Code: code, Text: text}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPCError(%s, %q)", ErrorCodeText(e.Code), e.Text)
}

// Body returns the "error" payload for this RPCError.
func (e *RPCError) Body() MessageBody {
	return MessageBody{Type: "error", Code: e.Code, Text: e.Text}
}
