package maelnode

import (
	"encoding/json"
	"fmt"
)

// Message represents a message sent from Src node to Dest node. The body is
// stored as unparsed JSON so that handlers can unmarshal it into whatever
// payload type they expect.
type Message struct {
	Src  string          `json:"src,omitempty"`
	Dest string          `json:"dest,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// MessageBody represents the reserved keys every payload embeds. Workload
// payloads embed MessageBody (anonymously, the way kv.go's payload structs
// do) and add their own fields; encoding/json flattens the embedded fields
// into the same JSON object, producing the tagged-union wire shape described
// in the data model.
type MessageBody struct {
	// Type is the payload's string discriminator, e.g. "echo", "echo_ok".
	Type string `json:"type,omitempty"`

	// MsgID is this message's identifier, unique within its sender. Always
	// serialized, even when unset, so round-tripping against the harness's
	// encoding preserves the null.
	MsgID *int `json:"msg_id"`

	// InReplyTo is the msg_id of the message this one answers, if any.
	InReplyTo *int `json:"in_reply_to"`

	// Code and Text carry an "error" payload's fields. The core never
	// constructs these itself; see rpcerror.go.
	Code int    `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

// NewMessage builds a message from a source, destination, and payload. The
// payload is marshaled as-is; callers that need a msg_id or in_reply_to set
// should embed MessageBody in their payload type and set those fields before
// calling NewMessage, or use BodyBuilder.
func NewMessage(src, dest string, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal body: %w", err)
	}
	return Message{Src: src, Dest: dest, Body: body}, nil
}

// Type returns the "type" discriminator field from the message body.
// Returns an empty string if the field is absent or the body is malformed.
func (m Message) Type() string {
	var body MessageBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return ""
	}
	return body.Type
}

// MsgID returns the message's msg_id, or nil if absent or the body is
// malformed.
func (m Message) MsgID() *int {
	var body MessageBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return nil
	}
	return body.MsgID
}

// InReplyTo returns the message's in_reply_to, or nil if absent or the body
// is malformed.
func (m Message) InReplyTo() *int {
	var body MessageBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return nil
	}
	return body.InReplyTo
}

// RPCError returns the RPC error carried by the message body, or nil if the
// body is not an "error" payload. A malformed body is reported as a Crash.
func (m Message) RPCError() *RPCError {
	var body MessageBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return NewRPCError(Crash, err.Error())
	} else if body.Type != "error" {
		return nil
	}
	return NewRPCError(body.Code, body.Text)
}

// Reply builds a reply to m carrying payload, with source and destination
// swapped, in_reply_to set to m's msg_id, and a new msg_id derived by
// incrementing m's msg_id by one (or nil, if m carried none). This is the
// convenience form described in the spec's "reply msg_id increment" open
// question: because the derived id lives in the client's id space rather
// than the node's own, workloads that mint their own outbound ids should use
// ReplyWithID instead.
func (m Message) Reply(payload any) (Message, error) {
	reqID := m.MsgID()

	var nextID *int
	if reqID != nil {
		id := *reqID + 1
		nextID = &id
	}
	return m.ReplyWithID(payload, nextID)
}

// ReplyWithID builds a reply to m carrying payload and an explicit msg_id
// (which may be nil). src/dest are swapped and in_reply_to is set to m's
// msg_id, exactly as in Reply.
func (m Message) ReplyWithID(payload any, msgID *int) (Message, error) {
	merged, err := mergeIDs(payload, msgID, m.MsgID())
	if err != nil {
		return Message{}, err
	}
	return Message{Src: m.Dest, Dest: m.Src, Body: merged}, nil
}

// mergeIDs marshals payload and overwrites its msg_id/in_reply_to fields.
// Payload structs embed MessageBody for their own "type" discriminator, but
// msg_id/in_reply_to are only known at reply/RPC time, so they're injected
// by round-tripping through a map, the same technique the teacher's
// Node.Reply and Node.RPC use.
func mergeIDs(payload any, msgID, inReplyTo *int) (json.RawMessage, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	m := make(map[string]any)
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if msgID != nil {
		m["msg_id"] = *msgID
	} else {
		m["msg_id"] = nil
	}
	if inReplyTo != nil {
		m["in_reply_to"] = *inReplyTo
	} else {
		m["in_reply_to"] = nil
	}

	return json.Marshal(m)
}
