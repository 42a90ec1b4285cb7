// Package wire defines the JSON messages exchanged with clients. Inbound
// messages decode into closed tagged variants; unknown type tags map to an
// explicit Ignored variant rather than an error.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/emdash/todoserver/internal/fault"
)

// Inbound envelope types.
const (
	TypeLogin = "login"
	TypeJoin  = "join"
	TypeLeave = "leave"
	TypeSend  = "send"
)

// Envelope is the decoded form of one inbound frame. Exactly one of the
// variant fields is set unless Ignored is true.
type Envelope struct {
	Type    string
	Login   *Login
	Join    *ChannelRef
	Leave   *ChannelRef
	Send    *Send
	Ignored bool
}

type Login struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type ChannelRef struct {
	Name string `json:"name"`
}

type Send struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

// DecodeEnvelope parses one inbound frame. A frame that is not a JSON object
// or lacks a string type tag is a protocol (hard) failure; a recognized tag
// with a missing required field is a soft validation failure.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, fault.Protocol("Malformed message.")
	}
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.Type != gjson.String {
		return nil, fault.Protocol("Message has no type.")
	}

	env := &Envelope{Type: typ.String()}
	switch env.Type {
	case TypeLogin:
		if err := requireFields(raw, "user", "password"); err != nil {
			return nil, err
		}
		env.Login = &Login{}
		if err := json.Unmarshal(raw, env.Login); err != nil {
			return nil, fault.Protocol("")
		}
	case TypeJoin, TypeLeave:
		if err := requireFields(raw, "name"); err != nil {
			return nil, err
		}
		ref := &ChannelRef{}
		if err := json.Unmarshal(raw, ref); err != nil {
			return nil, fault.Protocol("")
		}
		if env.Type == TypeJoin {
			env.Join = ref
		} else {
			env.Leave = ref
		}
	case TypeSend:
		if err := requireFields(raw, "name", "content"); err != nil {
			return nil, err
		}
		env.Send = &Send{}
		if err := json.Unmarshal(raw, env.Send); err != nil {
			return nil, fault.Protocol("")
		}
	default:
		env.Ignored = true
	}
	return env, nil
}

func requireFields(raw []byte, fields ...string) error {
	for _, f := range fields {
		if !gjson.GetBytes(raw, f).Exists() {
			return fault.Validation(fmt.Sprintf("Required attribute %q missing", f))
		}
	}
	return nil
}
