package maelnode_test

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	maelnode "github.com/distsys-labs/maelnode"
)

// newKVNode wires a HandlerNode up to a KV client and wraps it in a
// Runtime/io.Pipe harness, reusing the helpers from runtime_test.go.
func newKVNode(tb testing.TB, typ string) (kv *maelnode.KV, stdin io.Writer, stdout *bufio.Reader) {
	tb.Helper()

	var client *maelnode.KV
	in, out := newHandlerNode(tb, func(n *maelnode.HandlerNode) {
		client = maelnode.NewKV(typ, n)
	})
	initRuntime(tb, "n1", []string{"n1"}, in, out)
	return client, in, out
}

func TestKVReadStruct(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		kv, stdin, stdout := newKVNode(t, maelnode.LinKV)

		type payload struct {
			A int `json:"a"`
		}

		errCh := make(chan error, 1)
		go func() {
			var p payload
			errCh <- kv.ReadInto(context.Background(), "foo", &p)
		}()

		line, err := stdout.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		want := `{"src":"n1","dest":"lin-kv","body":{"in_reply_to":null,"key":"foo","msg_id":1,"type":"read"}}` + "\n"
		if line != want {
			t.Fatalf("request=%s, want %s", line, want)
		}

		if _, err := stdin.Write([]byte(`{"src":"` + maelnode.LinKV + `","dest":"n1","body":{"type":"read_ok","in_reply_to":1,"value":{"a":3}}}` + "\n")); err != nil {
			t.Fatal(err)
		}

		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("ReadInto error: %s", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for ReadInto")
		}
	})

	t.Run("RPCError", func(t *testing.T) {
		kv, stdin, stdout := newKVNode(t, maelnode.LinKV)

		errCh := make(chan error, 1)
		go func() {
			errCh <- kv.ReadInto(context.Background(), "foo", nil)
		}()

		if _, err := stdout.ReadString('\n'); err != nil {
			t.Fatal(err)
		}
		if _, err := stdin.Write([]byte(`{"src":"` + maelnode.LinKV + `","dest":"n1","body":{"type":"error","in_reply_to":1,"code":20,"text":"not found"}}` + "\n")); err != nil {
			t.Fatal(err)
		}

		select {
		case err := <-errCh:
			if maelnode.ErrorCode(err) != maelnode.KeyDoesNotExist {
				t.Fatalf("error=%v, want KeyDoesNotExist", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for ReadInto")
		}
	})
}

func TestKV_CompareAndSwap(t *testing.T) {
	kv, stdin, stdout := newKVNode(t, maelnode.LWWKV)

	errCh := make(chan error, 1)
	go func() {
		errCh <- kv.CompareAndSwap(context.Background(), "ctr", 3, 4, true)
	}()

	line, err := stdout.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	want := `{"src":"n1","dest":"lww-kv","body":{"create_if_not_exists":true,"from":3,"in_reply_to":null,"key":"ctr","msg_id":1,"to":4,"type":"cas"}}` + "\n"
	if line != want {
		t.Fatalf("request=%s, want %s", line, want)
	}

	if _, err := stdin.Write([]byte(`{"src":"` + maelnode.LWWKV + `","dest":"n1","body":{"type":"cas_ok","in_reply_to":1}}` + "\n")); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("CompareAndSwap error: %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for CompareAndSwap")
	}
}
