package maelnode_test

import (
	"encoding/json"
	"testing"

	maelnode "github.com/distsys-labs/maelnode"
)

func TestMessage_Type(t *testing.T) {
	msg := maelnode.Message{Body: json.RawMessage(`{"type":"echo"}`)}
	if got, want := msg.Type(), "echo"; got != want {
		t.Errorf("Type=%s, want %s", got, want)
	}
}

func TestMessage_MsgID_InReplyTo(t *testing.T) {
	msg := maelnode.Message{Body: json.RawMessage(`{"type":"echo_ok","msg_id":2,"in_reply_to":1}`)}

	if got := msg.MsgID(); got == nil || *got != 2 {
		t.Fatalf("MsgID=%v, want 2", got)
	}
	if got := msg.InReplyTo(); got == nil || *got != 1 {
		t.Fatalf("InReplyTo=%v, want 1", got)
	}
}

func TestMessage_Reply_IncrementsMsgID(t *testing.T) {
	req := maelnode.Message{Src: "c1", Dest: "n1", Body: json.RawMessage(`{"type":"echo","msg_id":5,"echo":"hi"}`)}

	reply, err := req.Reply(maelnode.MessageBody{Type: "echo_ok"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := reply.Src, "n1"; got != want {
		t.Errorf("Src=%s, want %s", got, want)
	}
	if got, want := reply.Dest, "c1"; got != want {
		t.Errorf("Dest=%s, want %s", got, want)
	}
	if got := reply.MsgID(); got == nil || *got != 6 {
		t.Fatalf("MsgID=%v, want 6", got)
	}
	if got := reply.InReplyTo(); got == nil || *got != 5 {
		t.Fatalf("InReplyTo=%v, want 5", got)
	}
}

func TestMessage_Reply_NoRequestMsgID(t *testing.T) {
	req := maelnode.Message{Src: "c1", Dest: "n1", Body: json.RawMessage(`{"type":"echo"}`)}

	reply, err := req.Reply(maelnode.MessageBody{Type: "echo_ok"})
	if err != nil {
		t.Fatal(err)
	}
	if got := reply.MsgID(); got != nil {
		t.Fatalf("MsgID=%v, want nil", got)
	}
}

func TestMessage_ReplyWithID(t *testing.T) {
	req := maelnode.Message{Src: "c1", Dest: "n1", Body: json.RawMessage(`{"type":"echo","msg_id":5}`)}

	id := 100
	reply, err := req.ReplyWithID(maelnode.MessageBody{Type: "echo_ok"}, &id)
	if err != nil {
		t.Fatal(err)
	}
	if got := reply.MsgID(); got == nil || *got != 100 {
		t.Fatalf("MsgID=%v, want 100", got)
	}
	if got := reply.InReplyTo(); got == nil || *got != 5 {
		t.Fatalf("InReplyTo=%v, want 5", got)
	}
}

func TestMessage_RPCError(t *testing.T) {
	msg := maelnode.Message{Body: json.RawMessage(`{"type":"error","code":11,"text":"try again"}`)}
	err := msg.RPCError()
	if err == nil {
		t.Fatal("expected a non-nil RPCError")
	}
	if got, want := err.Code, maelnode.TemporarilyUnavailable; got != want {
		t.Errorf("Code=%d, want %d", got, want)
	}

	ok := maelnode.Message{Body: json.RawMessage(`{"type":"echo_ok"}`)}
	if err := ok.RPCError(); err != nil {
		t.Fatalf("RPCError=%v, want nil", err)
	}
}

func TestBodyBuilder_Build(t *testing.T) {
	type echoBody struct {
		maelnode.MessageBody
		Echo string `json:"echo"`
	}

	body, err := maelnode.NewBodyBuilder(echoBody{
		MessageBody: maelnode.MessageBody{Type: "echo"},
		Echo:        "hi",
	}).MsgID(9).InReplyTo(3).Build()
	if err != nil {
		t.Fatal(err)
	}

	want := `{"echo":"hi","in_reply_to":3,"msg_id":9,"type":"echo"}`
	if string(body) != want {
		t.Fatalf("body=%s, want %s", body, want)
	}
}

func TestBodyBuilder_BuildWithoutIDs(t *testing.T) {
	body, err := maelnode.NewBodyBuilder(maelnode.MessageBody{Type: "echo"}).Build()
	if err != nil {
		t.Fatal(err)
	}

	want := `{"in_reply_to":null,"msg_id":null,"type":"echo"}`
	if string(body) != want {
		t.Fatalf("body=%s, want %s", body, want)
	}
}

func TestInitMessageBody_RoundTrip(t *testing.T) {
	line := `{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2","n3"]}`

	var body maelnode.InitMessageBody
	if err := json.Unmarshal([]byte(line), &body); err != nil {
		t.Fatal(err)
	}
	if got, want := body.NodeID, "n1"; got != want {
		t.Errorf("NodeID=%s, want %s", got, want)
	}
	if got, want := len(body.NodeIDs), 3; got != want {
		t.Fatalf("len(NodeIDs)=%d, want %d", got, want)
	}

	initOk := maelnode.NewInitOk()
	if got, want := initOk.Type, "init_ok"; got != want {
		t.Errorf("Type=%s, want %s", got, want)
	}
}
