// Package envelope implements the message schema shared by every post
// office: a reserved envelope object carrying routing metadata, a
// schema-less JSON body, and the selective field-level encryption that
// lets a message traverse the central post office without exposing
// encrypted fields in the clear.
package envelope

import (
	"encoding/json"
	"errors"
	"strings"
)

// EnvelopeKey is the reserved top-level key holding routing metadata.
const EnvelopeKey = "-={([env])}=-"

// SecureKey is the reserved envelope-inner key holding the base64
// ciphertext of any fields removed by Encrypt.
const SecureKey = ".secure"

// ConnectionKey is stamped onto an inbound message's envelope by the
// central router when its `to` is the central management mailbox, so
// handlers can correlate the message with the connection it arrived on.
const ConnectionKey = "-={([connectionName])}=-"

// Env is the reserved routing envelope.
type Env struct {
	From           string `json:"from"`
	To             string `json:"to,omitempty"`
	Type           string `json:"type"`
	ID             string `json:"id"`
	Reply          string `json:"reply,omitempty"`
	Expect         bool   `json:"expect,omitempty"`
	Secure         string `json:"-"`
	ConnectionName string `json:"-"`
}

// Message is a parsed wire message: envelope plus a schema-less body. Body
// may be mutated freely before Send; mutating it after send produces
// undefined results, which this package does not attempt to enforce (no
// copy-on-send).
type Message struct {
	Env  Env
	Body map[string]interface{}
}

var (
	ErrEmptyFrom  = errors.New("envelope: from must not be empty")
	ErrEmptyID    = errors.New("envelope: id must not be empty")
	ErrNoEnvelope = errors.New("envelope: message has no envelope object")
)

// New builds an empty message ready to have its envelope fields set by a
// mailbox's createXxxMessage helpers.
func New() *Message {
	return &Message{Body: make(map[string]interface{})}
}

// MajorType returns the portion of Type before the last '.', or the whole
// type if it has no dot.
func (m *Message) MajorType() string {
	if i := strings.LastIndexByte(m.Env.Type, '.'); i >= 0 {
		return m.Env.Type[:i]
	}
	return m.Env.Type
}

// MinorType returns the portion of Type after the last '.', or "" if Type
// has no dot.
func (m *Message) MinorType() string {
	if i := strings.LastIndexByte(m.Env.Type, '.'); i >= 0 {
		return m.Env.Type[i+1:]
	}
	return ""
}

// FromPO returns the post office name prefix of From ("poName.mailbox").
func (m *Message) FromPO() string {
	return poPart(m.Env.From)
}

// ToPO returns the post office name prefix of To, or "" if To is empty.
func (m *Message) ToPO() string {
	if m.Env.To == "" {
		return ""
	}
	return poPart(m.Env.To)
}

func poPart(addr string) string {
	if i := strings.IndexByte(addr, '.'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// IsDirect reports whether the message is a point-to-point message.
func (m *Message) IsDirect() bool { return m.Env.To != "" }

// IsPublish reports whether the message is a publish/subscribe broadcast.
func (m *Message) IsPublish() bool { return m.Env.To == "" }

// IsReply reports whether the message is a reply to an earlier message.
func (m *Message) IsReply() bool { return m.Env.Reply != "" }

// Validate checks the invariants every in-flight message must satisfy:
// non-empty from and id.
func (m *Message) Validate() error {
	if m.Env.From == "" {
		return ErrEmptyFrom
	}
	if m.Env.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// MarshalJSON renders the message as {EnvelopeKey: {...}, <body fields>}.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Body)+1)
	for k, v := range m.Body {
		out[k] = v
	}
	envObj := map[string]interface{}{
		"from": m.Env.From,
		"type": m.Env.Type,
		"id":   m.Env.ID,
	}
	if m.Env.To != "" {
		envObj["to"] = m.Env.To
	}
	if m.Env.Reply != "" {
		envObj["reply"] = m.Env.Reply
	}
	if m.Env.Expect {
		envObj["expect"] = true
	}
	if m.Env.Secure != "" {
		envObj[SecureKey] = m.Env.Secure
	}
	if m.Env.ConnectionName != "" {
		envObj[ConnectionKey] = m.Env.ConnectionName
	}
	out[EnvelopeKey] = envObj
	return json.Marshal(out)
}

// UnmarshalJSON parses a wire message, splitting the reserved envelope
// object from the schema-less body.
func (m *Message) UnmarshalJSON(data []byte) error {
	raw := make(map[string]interface{})
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	envRaw, ok := raw[EnvelopeKey]
	if !ok {
		return ErrNoEnvelope
	}
	envMap, ok := envRaw.(map[string]interface{})
	if !ok {
		return ErrNoEnvelope
	}
	delete(raw, EnvelopeKey)

	var env Env
	env.From, _ = envMap["from"].(string)
	env.To, _ = envMap["to"].(string)
	env.Type, _ = envMap["type"].(string)
	env.ID, _ = envMap["id"].(string)
	env.Reply, _ = envMap["reply"].(string)
	env.Expect, _ = envMap["expect"].(bool)
	env.Secure, _ = envMap[SecureKey].(string)
	env.ConnectionName, _ = envMap[ConnectionKey].(string)

	m.Env = env
	m.Body = raw
	return nil
}

// Clone makes a deep-enough copy for re-encryption: the envelope is copied
// by value and the body map is copied shallowly, so nested objects stay
// shared with the original. ReEncrypt only replaces the envelope's
// .secure value, which is why a shallow copy suffices there.
func (m *Message) Clone() *Message {
	c := &Message{Env: m.Env, Body: make(map[string]interface{}, len(m.Body))}
	for k, v := range m.Body {
		c.Body[k] = v
	}
	return c
}
