package maelnode

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// HandlerFunc is the signature for a per-type message handler.
type HandlerFunc func(msg Message) error

// HandlerNode is a ready-made Node that dispatches inbound messages to
// per-type handlers registered with Handle, the way most workloads want to
// be built. It embeds *Network, so Send/SyncRPC/CheckCallback are
// available directly on it. Its own RPC method (dest, payload, callback)
// shadows Network.RPC, which stays reachable as n.Network.RPC.
type HandlerNode struct {
	*Network

	mu      sync.Mutex
	id      string
	nodeIDs []string

	nextMsgID int
	handlers  map[string]HandlerFunc
}

// NewHandlerNode returns a HandlerNode bound to net, id, and nodeIDs. It's
// meant to be called from a NodeFactory:
//
//	maelnode.NewRuntime(func(net *maelnode.Network, id string, ids []string) (maelnode.Node, error) {
//		n := maelnode.NewHandlerNode(net, id, ids)
//		n.Handle("echo", handleEcho)
//		return n, nil
//	})
func NewHandlerNode(net *Network, id string, nodeIDs []string) *HandlerNode {
	return &HandlerNode{
		Network:  net,
		id:       id,
		nodeIDs:  nodeIDs,
		handlers: make(map[string]HandlerFunc),
	}
}

// ID returns this node's identifier.
func (n *HandlerNode) ID() string { return n.id }

// NodeIDs returns the full cluster roster, including this node's own id.
func (n *HandlerNode) NodeIDs() []string { return n.nodeIDs }

// Handle registers fn for messages of the given payload type. Panics on a
// duplicate registration for the same type; a duplicate handler is a
// programming error, the same as in the teacher's Node.Handle.
func (n *HandlerNode) Handle(typ string, fn HandlerFunc) {
	if _, ok := n.handlers[typ]; ok {
		panic(fmt.Sprintf("duplicate message handler for %q message type", typ))
	}
	n.handlers[typ] = fn
}

// HandleMessage implements Node by dispatching msg to the handler
// registered for its type.
func (n *HandlerNode) HandleMessage(msg Message) error {
	h, ok := n.handlers[msg.Type()]
	if !ok {
		return fmt.Errorf("no handler for message type %q", msg.Type())
	}
	return h(msg)
}

// Reply replies to req with payload.
func (n *HandlerNode) Reply(req Message, payload any) error {
	reply, err := req.Reply(payload)
	if err != nil {
		return err
	}
	return n.Send(reply)
}

// RPC sends an async RPC request to dest carrying payload, assigning a
// fresh msg_id, and invokes handler in its own goroutine when the reply
// arrives.
func (n *HandlerNode) RPC(dest string, payload any, handler HandlerFunc) error {
	msg, err := n.newRequest(dest, payload)
	if err != nil {
		return err
	}

	ch, err := n.Network.RPC(msg)
	if err != nil {
		return err
	}

	go func() {
		if err := handler(<-ch); err != nil {
			log.Printf("rpc callback error: %s", err)
		}
	}()

	return nil
}

// SyncRPCTo is a blocking convenience over Network.SyncRPC that assigns a
// fresh msg_id for dest/payload.
func (n *HandlerNode) SyncRPCTo(ctx context.Context, dest string, payload any) (Message, error) {
	msg, err := n.newRequest(dest, payload)
	if err != nil {
		return Message{}, err
	}
	return n.Network.SyncRPC(ctx, msg)
}

func (n *HandlerNode) newRequest(dest string, payload any) (Message, error) {
	n.mu.Lock()
	n.nextMsgID++
	msgID := n.nextMsgID
	n.mu.Unlock()

	body, err := mergeIDs(payload, &msgID, nil)
	if err != nil {
		return Message{}, err
	}
	return Message{Src: n.id, Dest: dest, Body: body}, nil
}
