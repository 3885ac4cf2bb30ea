// Command maelstrom-unique-ids generates globally unique ids by combining a
// node's own id with a per-node sequence counter, grounded on
// original_source/examples/unique/main.rs. Because each node owns a disjoint
// namespace (its own node id as the prefix), no coordination across nodes is
// required.
package main

import (
	"log"
	"strconv"
	"sync"

	maelnode "github.com/distsys-labs/maelnode"
)

type generateOkBody struct {
	maelnode.MessageBody
	ID string `json:"id"`
}

func main() {
	var mu sync.Mutex
	seq := 0

	rt := maelnode.NewRuntime(func(net *maelnode.Network, id string, nodeIDs []string) (maelnode.Node, error) {
		n := maelnode.NewHandlerNode(net, id, nodeIDs)
		n.Handle("generate", func(msg maelnode.Message) error {
			mu.Lock()
			seq++
			generated := seq
			mu.Unlock()

			return n.Reply(msg, generateOkBody{
				MessageBody: maelnode.MessageBody{Type: "generate_ok"},
				ID:          id + "-" + strconv.Itoa(generated),
			})
		})
		return n, nil
	})

	if err := rt.Run(); err != nil {
		log.Fatal(err)
	}
}
