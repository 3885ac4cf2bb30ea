package maelnode

import (
	"context"
	"errors"
	"sync"
)

// ErrSendFailed is returned by Send when the outbound channel has already
// been closed.
var ErrSendFailed = errors.New("maelnode: send failed, outbound channel closed")

// ErrMissingMsgID is returned by RPC when the message carries no msg_id.
var ErrMissingMsgID = errors.New("maelnode: rpc message missing msg_id")

// ErrDuplicateMsgID is returned by RPC when a callback is already
// registered for the message's msg_id. Unlike ErrSendFailed/ErrMissingMsgID,
// this indicates a programming bug: msg_id values used for RPC must be
// unique within the node's lifetime.
var ErrDuplicateMsgID = errors.New("maelnode: duplicate msg_id registered for rpc")

// Network is the façade workload code uses to talk to the rest of the
// cluster: fire-and-forget Send, and request/response RPC correlated by
// msg_id. A *Network is cheaply shareable — every copy of the pointer refers
// to the same outbound channel, callback registry and lock, so it can be
// handed to background workers freely.
type Network struct {
	mu        sync.Mutex
	callbacks map[int]chan Message
	outbound  chan Message
	closed    bool
}

// NewNetwork returns a new façade along with the receive end of its
// outbound channel, which the runtime drains to serialize messages to
// stdout.
func NewNetwork() (*Network, <-chan Message) {
	outbound := make(chan Message, 64)
	n := &Network{
		callbacks: make(map[int]chan Message),
		outbound:  outbound,
	}
	return n, outbound
}

// Send enqueues msg on the outbound channel. Fails with ErrSendFailed once
// the façade has been closed.
func (n *Network) Send(msg Message) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrSendFailed
	}
	n.outbound <- msg
	n.mu.Unlock()
	return nil
}

// RPC registers a one-shot callback for msg's msg_id and sends msg.
// Registration happens before the send completes, so a reply that arrives
// before the caller starts receiving is still delivered once it does.
// msg must already carry a msg_id; duplicate registrations are a
// programming error and return ErrDuplicateMsgID.
func (n *Network) RPC(msg Message) (<-chan Message, error) {
	msgID := msg.MsgID()
	if msgID == nil {
		return nil, ErrMissingMsgID
	}

	ch := make(chan Message, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrSendFailed
	}
	if _, exists := n.callbacks[*msgID]; exists {
		n.mu.Unlock()
		return nil, ErrDuplicateMsgID
	}
	n.callbacks[*msgID] = ch
	n.outbound <- msg
	n.mu.Unlock()

	return ch, nil
}

// SyncRPC is a blocking convenience over RPC: it sends msg and waits for
// either a reply or ctx to finish. If the reply's body carries an error
// code, it's returned as an *RPCError so the caller can distinguish success
// from failure without re-parsing the body.
func (n *Network) SyncRPC(ctx context.Context, msg Message) (Message, error) {
	ch, err := n.RPC(msg)
	if err != nil {
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case reply := <-ch:
		if rpcErr := reply.RPCError(); rpcErr != nil {
			return reply, rpcErr
		}
		return reply, nil
	}
}

// CheckCallback examines an inbound message. If its in_reply_to matches a
// registered callback, the callback is removed from the registry and the
// message is delivered to it; CheckCallback then reports that the message
// was consumed. Otherwise the message is handed back for normal dispatch.
//
// The delivery channel is buffered with capacity one, so the send below
// never blocks: the message is always consumed once a callback exists for
// it.
func (n *Network) CheckCallback(msg Message) (_ Message, consumed bool) {
	inReplyTo := msg.InReplyTo()
	if inReplyTo == nil {
		return msg, false
	}

	n.mu.Lock()
	ch, ok := n.callbacks[*inReplyTo]
	if ok {
		delete(n.callbacks, *inReplyTo)
	}
	n.mu.Unlock()

	if !ok {
		return msg, false
	}

	ch <- msg
	return Message{}, true
}

// Close closes the outbound channel. It is idempotent. Workload code should
// not call this directly; the runtime calls it once the handler loop has
// drained, standing in for the "last reference to the façade's sender is
// dropped" shutdown described in the design notes (Go has no equivalent of
// an owned value's drop, so the runtime — which constructed the Network —
// closes it explicitly instead).
func (n *Network) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.outbound)
}
