package maelnode

// InitMessageBody represents the message body for the harness's "init"
// message: the first message sent to every node, assigning its id and
// handing it the full cluster roster.
type InitMessageBody struct {
	MessageBody
	NodeID  string   `json:"node_id,omitempty"`
	NodeIDs []string `json:"node_ids,omitempty"`
}

// InitOkMessageBody is the mandatory reply to "init".
type InitOkMessageBody struct {
	MessageBody
}

// NewInitOk returns an init_ok payload.
func NewInitOk() InitOkMessageBody {
	return InitOkMessageBody{MessageBody: MessageBody{Type: "init_ok"}}
}
