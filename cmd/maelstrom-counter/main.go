// Command maelstrom-counter implements a grow-only distributed counter
// backed by the harness's seq-kv service, grounded on
// original_source/src/bin/gcount/main.rs. Adds (deltas) accumulate locally
// and are folded into a single seq-kv value by a background CAS-retry
// worker, so "add" never blocks on network round trips to seq-kv.
package main

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	maelnode "github.com/distsys-labs/maelnode"
)

const dbKey = "counter"
const casRetryInterval = 10 * time.Millisecond

type addBody struct {
	maelnode.MessageBody
	Delta int `json:"delta"`
}

type readOkBody struct {
	maelnode.MessageBody
	Value int `json:"value"`
}

type counterNode struct {
	*maelnode.HandlerNode
	kv        *maelnode.KV
	unapplied int64
}

func newCounterNode(net *maelnode.Network, id string, nodeIDs []string) *counterNode {
	n := &counterNode{HandlerNode: maelnode.NewHandlerNode(net, id, nodeIDs)}
	n.kv = maelnode.NewSeqKV(n.HandlerNode)

	n.Handle("add", n.handleAdd)
	n.Handle("read", n.handleRead)

	go n.applyWorker()

	return n
}

func (n *counterNode) handleAdd(msg maelnode.Message) error {
	var body addBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return err
	}
	atomic.AddInt64(&n.unapplied, int64(body.Delta))
	return n.Reply(msg, maelnode.MessageBody{Type: "add_ok"})
}

func (n *counterNode) handleRead(msg maelnode.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	value, err := n.kv.ReadInt(ctx, dbKey)
	if err != nil {
		return err
	}
	return n.Reply(msg, readOkBody{
		MessageBody: maelnode.MessageBody{Type: "read_ok"},
		Value:       value + int(atomic.LoadInt64(&n.unapplied)),
	})
}

// applyWorker folds accumulated deltas into seq-kv's value through a CAS
// retry loop, seeding the key first since seq-kv starts with no value at
// all. This is the same "unapplied sum, CAS until it sticks" strategy as the
// original's worker thread, expressed with Go's KV client instead of
// hand-built read/cas messages.
func (n *counterNode) applyWorker() {
	ctx := context.Background()
	_ = n.kv.CompareAndSwap(ctx, dbKey, 0, 0, true)

	ticker := time.NewTicker(casRetryInterval)
	defer ticker.Stop()

	for range ticker.C {
		toApply := atomic.LoadInt64(&n.unapplied)
		if toApply <= 0 {
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, time.Second)
		previous, err := n.kv.ReadInt(readCtx, dbKey)
		cancel()
		if err != nil {
			log.Printf("counter: read seq-kv failed: %s", err)
			continue
		}

		target := previous + int(toApply)

		casCtx, cancel := context.WithTimeout(ctx, time.Second)
		err = n.kv.CompareAndSwap(casCtx, dbKey, previous, target, true)
		cancel()
		if err != nil {
			if maelnode.ErrorCode(err) == maelnode.PreconditionFailed {
				// lost the race with another node's CAS; retry next tick
				// against the now-current value.
				continue
			}
			log.Printf("counter: cas seq-kv failed: %s", err)
			continue
		}

		atomic.AddInt64(&n.unapplied, -toApply)
	}
}

func main() {
	rt := maelnode.NewRuntime(func(net *maelnode.Network, id string, nodeIDs []string) (maelnode.Node, error) {
		return newCounterNode(net, id, nodeIDs), nil
	})

	if err := rt.Run(); err != nil {
		log.Fatal(err)
	}
}
