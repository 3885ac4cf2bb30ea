package maelnode

import (
	"context"
	"encoding/json"
)

// Types of key/value stores the Maelstrom harness provides.
const (
	LinKV = "lin-kv"
	SeqKV = "seq-kv"
	LWWKV = "lww-kv"
)

// KV is a client for one of the harness-provided key/value services. It's a
// thin wrapper over HandlerNode.SyncRPCTo, grounded on the teacher's kv.go.
type KV struct {
	typ  string
	node *HandlerNode
}

// NewKV returns a KV client of the given service type bound to node.
func NewKV(typ string, node *HandlerNode) *KV {
	return &KV{typ: typ, node: node}
}

// NewLinKV returns a client to the linearizable key/value store.
func NewLinKV(node *HandlerNode) *KV { return NewKV(LinKV, node) }

// NewSeqKV returns a client to the sequentially-consistent key/value store.
func NewSeqKV(node *HandlerNode) *KV { return NewKV(SeqKV, node) }

// NewLWWKV returns a client to the last-write-wins key/value store.
func NewLWWKV(node *HandlerNode) *KV { return NewKV(LWWKV, node) }

// Read returns the value for a key. Returns an *RPCError with code
// KeyDoesNotExist if the key is absent.
func (kv *KV) Read(ctx context.Context, key string) (any, error) {
	resp, err := kv.node.SyncRPCTo(ctx, kv.typ, kvReadMessageBody{
		MessageBody: MessageBody{Type: "read"},
		Key:         key,
	})
	if err != nil {
		return nil, err
	}

	var body kvReadOKMessageBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, err
	}

	// Maelstrom workloads deal in integers; json.Unmarshal into any gives
	// float64, so convert it back.
	switch v := body.Value.(type) {
	case float64:
		return int(v), nil
	default:
		return v, nil
	}
}

// ReadInto reads a key's value and unmarshals it into dest, for values that
// aren't simple scalars (structs, maps). dest may be nil, in which case the
// read is performed (and any *RPCError still surfaced) but no decoding
// happens.
func (kv *KV) ReadInto(ctx context.Context, key string, dest any) error {
	resp, err := kv.node.SyncRPCTo(ctx, kv.typ, kvReadMessageBody{
		MessageBody: MessageBody{Type: "read"},
		Key:         key,
	})
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}

	var body struct {
		MessageBody
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return err
	}
	return json.Unmarshal(body.Value, dest)
}

// ReadInt reads a key's value as an int.
func (kv *KV) ReadInt(ctx context.Context, key string) (int, error) {
	v, err := kv.Read(ctx, key)
	i, _ := v.(int)
	return i, err
}

// Write overwrites the value for a key.
func (kv *KV) Write(ctx context.Context, key string, value any) error {
	_, err := kv.node.SyncRPCTo(ctx, kv.typ, kvWriteMessageBody{
		MessageBody: MessageBody{Type: "write"},
		Key:         key,
		Value:       value,
	})
	return err
}

// CompareAndSwap updates key's value if its current value matches from,
// creating the key first if createIfNotExists is set. Returns an *RPCError
// with code PreconditionFailed if the current value doesn't match from, or
// KeyDoesNotExist if the key doesn't exist and createIfNotExists is false.
func (kv *KV) CompareAndSwap(ctx context.Context, key string, from, to any, createIfNotExists bool) error {
	_, err := kv.node.SyncRPCTo(ctx, kv.typ, kvCASMessageBody{
		MessageBody:       MessageBody{Type: "cas"},
		Key:               key,
		From:              from,
		To:                to,
		CreateIfNotExists: createIfNotExists,
	})
	return err
}

type kvReadMessageBody struct {
	MessageBody
	Key string `json:"key"`
}

type kvReadOKMessageBody struct {
	MessageBody
	Value any `json:"value"`
}

type kvWriteMessageBody struct {
	MessageBody
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type kvCASMessageBody struct {
	MessageBody
	Key               string `json:"key"`
	From              any    `json:"from"`
	To                any    `json:"to"`
	CreateIfNotExists bool   `json:"create_if_not_exists,omitempty"`
}
