package maelnode

import "encoding/json"

// BodyBuilder provides fluent construction of a message body around a
// payload, for workload code (such as the kafka workload's commit_offsets
// forwarding) that mints its own msg_id rather than going through Reply/RPC. Mirrors the
// original "Body builder" helper described in the message model: msg_id and
// in_reply_to are optional and independently settable.
type BodyBuilder struct {
	payload   any
	msgID     *int
	inReplyTo *int
}

// NewBodyBuilder starts building a body around payload.
func NewBodyBuilder(payload any) *BodyBuilder {
	return &BodyBuilder{payload: payload}
}

// MsgID sets the body's msg_id.
func (b *BodyBuilder) MsgID(id int) *BodyBuilder {
	b.msgID = &id
	return b
}

// InReplyTo sets the body's in_reply_to.
func (b *BodyBuilder) InReplyTo(id int) *BodyBuilder {
	b.inReplyTo = &id
	return b
}

// Build returns the merged, flattened JSON body.
func (b *BodyBuilder) Build() (json.RawMessage, error) {
	return mergeIDs(b.payload, b.msgID, b.inReplyTo)
}
