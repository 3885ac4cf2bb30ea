// Command maelstrom-echo is the simplest possible workload: it replies to
// every "echo" message with the same text, demonstrating HandlerNode.Handle
// and Reply.
package main

import (
	"encoding/json"
	"log"

	maelnode "github.com/distsys-labs/maelnode"
)

type echoBody struct {
	maelnode.MessageBody
	Echo string `json:"echo"`
}

func main() {
	rt := maelnode.NewRuntime(func(net *maelnode.Network, id string, nodeIDs []string) (maelnode.Node, error) {
		n := maelnode.NewHandlerNode(net, id, nodeIDs)
		n.Handle("echo", func(msg maelnode.Message) error {
			var body echoBody
			if err := json.Unmarshal(msg.Body, &body); err != nil {
				return err
			}
			return n.Reply(msg, echoBody{
				MessageBody: maelnode.MessageBody{Type: "echo_ok"},
				Echo:        body.Echo,
			})
		})
		return n, nil
	})

	if err := rt.Run(); err != nil {
		log.Fatal(err)
	}
}
