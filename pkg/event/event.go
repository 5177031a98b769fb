package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ChatType selects the delivery branch of an envelope.
type ChatType string

const (
	ChatDirect ChatType = "DIRECT"
	ChatGroup  ChatType = "GROUP"
)

// Channel names the logical log a payload travels on.
type Channel string

const (
	ChannelDirect Channel = "direct"
	ChannelGroup  Channel = "group"
	ChannelEvent  Channel = "event"
)

// PushChannel is the client-side channel chat messages are pushed to.
const PushChannel = "messages"

// MessageEnvelope is the chat message contract shared by the send path and
// every dispatch node. Treat it as a wire contract: the JSON names are consumed
// by non-Go services too.
type MessageEnvelope struct {
	MsgID      string    `json:"msgId" validate:"required"`
	Content    string    `json:"content"`
	ChatType   ChatType  `json:"chatType" validate:"required,oneof=DIRECT GROUP"`
	FromUserID string    `json:"fromUserId" validate:"required"`
	ToUserID   string    `json:"toUserId,omitempty" validate:"required_if=ChatType DIRECT,excluded_if=ChatType GROUP"`
	GroupID    int64     `json:"groupId,omitempty" validate:"required_if=ChatType GROUP,excluded_if=ChatType DIRECT,gte=0"`
	SessionID  SessionID `json:"sessionId"`
}

// GroupFanoutPayload carries the roster captured at publish time. MemberIDs may
// contain the sender; exclusion happens on the consuming side.
type GroupFanoutPayload struct {
	Envelope  MessageEnvelope `json:"envelope"`
	MemberIDs []string        `json:"memberIds"`
}

// SystemEvent is a schema-less audit record.
type SystemEvent map[string]any

// Type returns the conventional "type" entry, or "unknown".
func (e SystemEvent) Type() string {
	if v, ok := e["type"].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// RoutingKey returns the partitioning key for the envelope. Identical keys land
// on the same partition, which keeps per-conversation publish order.
func (m *MessageEnvelope) RoutingKey() string {
	if m.ChatType == ChatGroup {
		return GroupRoutingKey(m.GroupID)
	}
	return m.ToUserID
}

// GroupRoutingKey is "group_" + groupId.
func GroupRoutingKey(groupID int64) string {
	return "group_" + strconv.FormatInt(groupID, 10)
}

// SessionID is the opaque conversation id. Upstream producers emit it either
// as a JSON string or a JSON number; both decode to the same textual form and
// it is always encoded back as a string.
type SessionID string

func (s SessionID) String() string { return string(s) }

func (s SessionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s *SessionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = SessionID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("sessionId: want string or number, got %s", b)
	}
	*s = SessionID(n.String())
	return nil
}
