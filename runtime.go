package maelnode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// eoi is the sentinel line that signals orderly end of input.
const eoi = "EOI"

// Node is the contract the runtime drives. HandleMessage is invoked once
// per non-init, non-RPC-reply inbound message, in the order messages arrived
// on stdin. It must not block indefinitely on anything only it can drain —
// but it may issue RPCs and block on their replies, since replies are
// routed by an independent dispatcher goroutine.
type Node interface {
	HandleMessage(msg Message) error
}

// NodeFactory constructs a Node after the init handshake has been parsed.
// It is the one-shot factory point at which a node may capture the network
// façade and spawn background workers (replicators, CAS appliers, gossip
// loops).
type NodeFactory func(net *Network, nodeID string, nodeIDs []string) (Node, error)

// Runtime is the message pump: it owns the stdin reader, stdout writer, and
// dispatcher goroutines, and shuttles JSON-encoded messages between the
// Maelstrom harness and a Node built from NodeFactory.
type Runtime struct {
	factory NodeFactory

	// Stdin and Stdout default to os.Stdin/os.Stdout but are exported so
	// tests can substitute pipes, the same way the teacher's Node does.
	Stdin  io.Reader
	Stdout io.Writer
}

// NewRuntime returns a Runtime that will build its Node from factory.
func NewRuntime(factory NodeFactory) *Runtime {
	return &Runtime{
		factory: factory,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
	}
}

// Run executes the message pump. It blocks until stdin closes or the EOI
// sentinel is seen, then waits for all outbound messages already enqueued
// to be flushed before returning.
func (rt *Runtime) Run() error {
	linesCh := make(chan string, 64)
	handlerCh := make(chan Message, 64)
	writeCh := make(chan string, 64)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.readLines(linesCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.writeLines(writeCh)
	}()

	initMsg, err := rt.readInit(linesCh)
	if err != nil {
		close(writeCh)
		return err
	}

	var initBody InitMessageBody
	if err := json.Unmarshal(initMsg.Body, &initBody); err != nil {
		close(writeCh)
		return fmt.Errorf("unmarshal init message body: %w", err)
	}

	net, outbound := NewNetwork()
	node, err := rt.factory(net, initBody.NodeID, initBody.NodeIDs)
	if err != nil {
		close(writeCh)
		return fmt.Errorf("init node: %w", err)
	}

	// init_ok carries no msg_id of its own: it's emitted before the node has
	// a sequence counter to draw from, so the reply id is left null rather
	// than derived from the init message's msg_id.
	initOk, err := initMsg.ReplyWithID(NewInitOk(), nil)
	if err != nil {
		close(writeCh)
		return fmt.Errorf("build init_ok: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.serializeOutbound(initOk, outbound, writeCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.dispatch(linesCh, handlerCh, net)
	}()

	log.Printf("node %s initialized", initBody.NodeID)

	for msg := range handlerCh {
		rt.handle(node, net, msg)
	}

	net.Close()
	wg.Wait()

	return nil
}

// readInit reads exactly one line and parses it as an init message. Any
// other first message, or a line that doesn't parse, is a fatal startup
// error: the runtime has nothing sensible to do without a node id.
func (rt *Runtime) readInit(linesCh <-chan string) (Message, error) {
	line, ok := <-linesCh
	if !ok {
		return Message{}, fmt.Errorf("stdin closed before init message")
	}

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return Message{}, fmt.Errorf("unmarshal init message: %w", err)
	}
	if msg.Type() != "init" {
		return Message{}, fmt.Errorf("expected init message, got %q", msg.Type())
	}
	return msg, nil
}

// readLines scans stdin and forwards each line until EOF or the EOI
// sentinel, then closes linesCh.
func (rt *Runtime) readLines(linesCh chan<- string) {
	defer close(linesCh)

	scanner := bufio.NewScanner(rt.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == eoi {
			log.Printf("got EOI")
			return
		}
		linesCh <- line
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin read error: %s", err)
	}
}

// writeLines drains writeCh to stdout until it's closed.
func (rt *Runtime) writeLines(writeCh <-chan string) {
	w := bufio.NewWriter(rt.Stdout)
	defer w.Flush()

	for line := range writeCh {
		if _, err := w.WriteString(line); err != nil {
			log.Printf("stdout write error: %s", err)
			continue
		}
		if _, err := w.WriteString("\n"); err != nil {
			log.Printf("stdout write error: %s", err)
			continue
		}
		if err := w.Flush(); err != nil {
			log.Printf("stdout flush error: %s", err)
		}
	}
}

// serializeOutbound is the "outbound serializer" thread: it writes the
// init_ok reply first, then forwards every message the node sends through
// net until outbound closes (which happens when the runtime calls
// net.Close() after the handler loop in Run returns), at which point it
// closes writeCh.
func (rt *Runtime) serializeOutbound(initOk Message, outbound <-chan Message, writeCh chan<- string) {
	defer close(writeCh)

	if err := writeJSON(writeCh, initOk); err != nil {
		log.Printf("marshal init_ok: %s", err)
	}

	for msg := range outbound {
		if err := writeJSON(writeCh, msg); err != nil {
			log.Printf("marshal outbound message: %s", err)
			continue
		}
	}
}

func writeJSON(writeCh chan<- string, msg Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCh <- string(buf)
	return nil
}

// dispatch is the "dispatcher-check" thread. For every inbound line it
// parses the message and asks the network façade whether it's an RPC
// reply; if so the façade has already delivered it to the waiting caller,
// and it is not forwarded. Otherwise it's handed to the handler channel.
//
// This thread is deliberately independent from the handler loop in Run: if
// they were the same goroutine, a handler blocked awaiting its own RPC
// reply would prevent that very reply (or anyone else's) from ever being
// routed, deadlocking the node. Decoupling "parse and check callbacks" from
// "run the handler" means an RPC reply can always be routed even while a
// handler is blocked waiting on one.
func (rt *Runtime) dispatch(linesCh <-chan string, handlerCh chan<- Message, net *Network) {
	defer close(handlerCh)

	for line := range linesCh {
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			log.Printf("unmarshal message: %s (line: %s)", err, line)
			continue
		}

		if _, consumed := net.CheckCallback(msg); consumed {
			continue
		}

		handlerCh <- msg
	}
}

// handle runs a single message through node.HandleMessage. A returned
// *RPCError is reported to the sender as an "error" reply; any other error
// is logged and converted to a Crash reply. Either way, handle never aborts
// the runtime: a single bad message must not take the node down.
func (rt *Runtime) handle(node Node, net *Network, msg Message) {
	err := node.HandleMessage(msg)
	if err == nil {
		return
	}

	var rpcErr *RPCError
	if asRPCError, ok := err.(*RPCError); ok {
		rpcErr = asRPCError
	} else {
		log.Printf("handler error for %s: %s", msg.Type(), err)
		rpcErr = NewRPCError(Crash, err.Error())
	}

	reply, buildErr := msg.Reply(rpcErr.Body())
	if buildErr != nil {
		log.Printf("build error reply: %s", buildErr)
		return
	}
	if err := net.Send(reply); err != nil {
		log.Printf("send error reply: %s", err)
	}
}
