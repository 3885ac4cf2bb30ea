// Command maelstrom-broadcast implements gossip-based broadcast with
// topology handling, grounded on original_source/src/bin/broadcast/main.rs.
// Unlike the original's single-shot broadcast-to-neighbors, this node
// periodically re-gossips any message its neighbors haven't yet acked, so
// delivery survives a transient network partition instead of depending on
// every send succeeding the first time.
package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"golang.org/x/exp/maps"

	maelnode "github.com/distsys-labs/maelnode"
)

const gossipInterval = 500 * time.Millisecond

type broadcastBody struct {
	maelnode.MessageBody
	Message int `json:"message"`
}

type readOkBody struct {
	maelnode.MessageBody
	Messages []int `json:"messages"`
}

type topologyBody struct {
	maelnode.MessageBody
	Topology map[string][]string `json:"topology"`
}

type broadcastNode struct {
	*maelnode.HandlerNode

	mu        sync.Mutex
	neighbors []string
	seen      mapset.Set[int]

	// acked[neighbor] tracks which message values that neighbor has
	// confirmed receiving, so the gossip loop only resends what's needed.
	acked map[string]mapset.Set[int]
}

func newBroadcastNode(net *maelnode.Network, id string, nodeIDs []string) *broadcastNode {
	neighbors := lo.Filter(nodeIDs, func(nodeID string, _ int) bool {
		return nodeID != id
	})

	acked := make(map[string]mapset.Set[int], len(neighbors))
	for _, nb := range neighbors {
		acked[nb] = mapset.NewThreadUnsafeSet[int]()
	}

	bn := &broadcastNode{
		HandlerNode: maelnode.NewHandlerNode(net, id, nodeIDs),
		neighbors:   neighbors,
		seen:        mapset.NewThreadUnsafeSet[int](),
		acked:       acked,
	}

	bn.Handle("broadcast", bn.handleBroadcast)
	bn.Handle("read", bn.handleRead)
	bn.Handle("topology", bn.handleTopology)

	go bn.gossipLoop()

	return bn
}

func (n *broadcastNode) handleBroadcast(msg maelnode.Message) error {
	var body broadcastBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}

	n.mu.Lock()
	n.seen.Add(body.Message)
	n.mu.Unlock()

	return n.Reply(msg, maelnode.MessageBody{Type: "broadcast_ok"})
}

func (n *broadcastNode) handleRead(msg maelnode.Message) error {
	n.mu.Lock()
	values := n.seen.ToSlice()
	n.mu.Unlock()

	return n.Reply(msg, readOkBody{
		MessageBody: maelnode.MessageBody{Type: "read_ok"},
		Messages:    values,
	})
}

func (n *broadcastNode) handleTopology(msg maelnode.Message) error {
	var body topologyBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}

	cloned := maps.Clone(body.Topology)
	if own, ok := cloned[n.ID()]; ok {
		n.mu.Lock()
		n.neighbors = lo.Filter(own, func(nb string, _ int) bool { return nb != n.ID() })
		for _, nb := range n.neighbors {
			if _, ok := n.acked[nb]; !ok {
				n.acked[nb] = mapset.NewThreadUnsafeSet[int]()
			}
		}
		n.mu.Unlock()
	}

	return n.Reply(msg, maelnode.MessageBody{Type: "topology_ok"})
}

// gossipLoop periodically forwards every message a neighbor hasn't yet
// acked. Acks are discovered by handling broadcast_ok replies, which the
// HandlerNode's async RPC delivers here without blocking the gossip loop on
// any one neighbor.
func (n *broadcastNode) gossipLoop() {
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for range ticker.C {
		n.mu.Lock()
		values := n.seen.ToSlice()
		neighbors := append([]string(nil), n.neighbors...)
		n.mu.Unlock()

		for _, nb := range neighbors {
			n.mu.Lock()
			unacked := lo.Filter(values, func(v int, _ int) bool {
				return !n.acked[nb].Contains(v)
			})
			n.mu.Unlock()

			for _, v := range unacked {
				n.forward(nb, v)
			}
		}
	}
}

func (n *broadcastNode) forward(dest string, value int) {
	err := n.RPC(dest, broadcastBody{
		MessageBody: maelnode.MessageBody{Type: "broadcast"},
		Message:     value,
	}, func(reply maelnode.Message) error {
		n.mu.Lock()
		n.acked[dest].Add(value)
		n.mu.Unlock()
		return nil
	})
	if err != nil {
		log.Printf("gossip to %s failed: %s", dest, err)
	}
}

func main() {
	rt := maelnode.NewRuntime(func(net *maelnode.Network, id string, nodeIDs []string) (maelnode.Node, error) {
		return newBroadcastNode(net, id, nodeIDs), nil
	})

	if err := rt.Run(); err != nil {
		log.Fatal(err)
	}
}
