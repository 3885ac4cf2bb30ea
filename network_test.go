package maelnode_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	maelnode "github.com/distsys-labs/maelnode"
)

func TestNetwork_Send(t *testing.T) {
	net, outbound := maelnode.NewNetwork()

	msg := maelnode.Message{Src: "n1", Dest: "n2", Body: json.RawMessage(`{"type":"echo"}`)}
	if err := net.Send(msg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-outbound:
		if got.Dest != "n2" {
			t.Fatalf("Dest=%s, want n2", got.Dest)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outbound message")
	}
}

func TestNetwork_Send_AfterClose(t *testing.T) {
	net, outbound := maelnode.NewNetwork()
	net.Close()

	go func() {
		for range outbound {
		}
	}()

	if err := net.Send(maelnode.Message{}); err != maelnode.ErrSendFailed {
		t.Fatalf("err=%v, want ErrSendFailed", err)
	}
}

func TestNetwork_RPC_Pingpong(t *testing.T) {
	net, outbound := maelnode.NewNetwork()
	go func() {
		for range outbound {
		}
	}()

	req := maelnode.Message{Src: "n1", Dest: "n2", Body: json.RawMessage(`{"type":"echo","msg_id":1}`)}

	ch, err := net.RPC(req)
	if err != nil {
		t.Fatal(err)
	}

	reply := maelnode.Message{Src: "n2", Dest: "n1", Body: json.RawMessage(`{"type":"echo_ok","in_reply_to":1}`)}
	if _, consumed := net.CheckCallback(reply); !consumed {
		t.Fatal("expected CheckCallback to consume the reply")
	}

	select {
	case got := <-ch:
		if got.Type() != "echo_ok" {
			t.Fatalf("Type=%s, want echo_ok", got.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for rpc reply")
	}
}

func TestNetwork_RPC_ErrMissingMsgID(t *testing.T) {
	net, outbound := maelnode.NewNetwork()
	go func() {
		for range outbound {
		}
	}()

	_, err := net.RPC(maelnode.Message{Body: json.RawMessage(`{"type":"echo"}`)})
	if err != maelnode.ErrMissingMsgID {
		t.Fatalf("err=%v, want ErrMissingMsgID", err)
	}
}

func TestNetwork_RPC_ErrDuplicateMsgID(t *testing.T) {
	net, outbound := maelnode.NewNetwork()
	go func() {
		for range outbound {
		}
	}()

	msg := maelnode.Message{Body: json.RawMessage(`{"type":"echo","msg_id":7}`)}
	if _, err := net.RPC(msg); err != nil {
		t.Fatal(err)
	}
	if _, err := net.RPC(msg); err != maelnode.ErrDuplicateMsgID {
		t.Fatalf("err=%v, want ErrDuplicateMsgID", err)
	}
}

func TestNetwork_CheckCallback_Unmatched(t *testing.T) {
	net, _ := maelnode.NewNetwork()

	msg := maelnode.Message{Body: json.RawMessage(`{"type":"echo_ok","in_reply_to":99}`)}
	got, consumed := net.CheckCallback(msg)
	if consumed {
		t.Fatal("expected an unregistered in_reply_to to not be consumed")
	}
	if got.Type() != "echo_ok" {
		t.Fatalf("Type=%s, want echo_ok", got.Type())
	}
}

func TestNetwork_CheckCallback_NoInReplyTo(t *testing.T) {
	net, _ := maelnode.NewNetwork()

	msg := maelnode.Message{Body: json.RawMessage(`{"type":"echo"}`)}
	_, consumed := net.CheckCallback(msg)
	if consumed {
		t.Fatal("a message with no in_reply_to must never be consumed as a callback")
	}
}

func TestNetwork_SyncRPC(t *testing.T) {
	net, outbound := maelnode.NewNetwork()

	go func() {
		req := <-outbound
		reply, err := req.Reply(maelnode.MessageBody{Type: "echo_ok"})
		if err != nil {
			t.Errorf("build reply: %s", err)
			return
		}
		net.CheckCallback(reply)
	}()

	req := maelnode.Message{Src: "n1", Dest: "n2", Body: json.RawMessage(`{"type":"echo","msg_id":1}`)}
	reply, err := net.SyncRPC(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type() != "echo_ok" {
		t.Fatalf("Type=%s, want echo_ok", reply.Type())
	}
}

func TestNetwork_SyncRPC_ContextCanceled(t *testing.T) {
	net, outbound := maelnode.NewNetwork()
	go func() {
		for range outbound {
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req := maelnode.Message{Body: json.RawMessage(`{"type":"echo","msg_id":1}`)}
	_, err := net.SyncRPC(ctx, req)
	if err != context.DeadlineExceeded {
		t.Fatalf("err=%v, want DeadlineExceeded", err)
	}
}

func TestNetwork_SyncRPC_RPCError(t *testing.T) {
	net, outbound := maelnode.NewNetwork()
	go func() {
		req := <-outbound
		reply, _ := req.Reply(maelnode.NewRPCError(maelnode.KeyDoesNotExist, "nope").Body())
		net.CheckCallback(reply)
	}()

	req := maelnode.Message{Body: json.RawMessage(`{"type":"read","msg_id":1}`)}
	_, err := net.SyncRPC(context.Background(), req)
	if maelnode.ErrorCode(err) != maelnode.KeyDoesNotExist {
		t.Fatalf("err=%v, want KeyDoesNotExist", err)
	}
}

func TestNetwork_Close_Idempotent(t *testing.T) {
	net, _ := maelnode.NewNetwork()
	net.Close()
	net.Close()
}
