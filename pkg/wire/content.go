package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/emdash/todoserver/internal/fault"
)

// Content types routed through a list's channel.
const (
	TypeInsert = "insert"
	TypeDelete = "delete"
	TypeUpdate = "update"
)

// Content types routed through the control channel.
const (
	TypeGetLists   = "get-lists"
	TypeCreate     = "create"
	TypeRename     = "rename"
	TypeListDelete = "delete"
)

// ListOp is a decoded list mutation.
type ListOp struct {
	Type    string         `json:"type"`
	Index   int            `json:"index"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Ignored bool           `json:"-"`
}

// DecodeListOp parses the content of a "send" frame targeted at a list
// channel. Unknown content types decode to an Ignored op.
func DecodeListOp(raw json.RawMessage) (*ListOp, error) {
	typ, err := contentType(raw)
	if err != nil {
		return nil, err
	}

	op := &ListOp{Type: typ}
	switch typ {
	case TypeInsert, TypeUpdate:
		if err := requireContent(raw, "index", "attrs"); err != nil {
			return nil, err
		}
	case TypeDelete:
		if err := requireContent(raw, "index"); err != nil {
			return nil, err
		}
	default:
		op.Ignored = true
		return op, nil
	}
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, fault.Validation("Malformed list operation.")
	}
	return op, nil
}

// ControlOp is a decoded control-channel operation.
type ControlOp struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	ID      string `json:"id"`
	Ignored bool   `json:"-"`
}

// DecodeControlOp parses the content of a "send" frame targeted at the
// control channel.
func DecodeControlOp(raw json.RawMessage) (*ControlOp, error) {
	typ, err := contentType(raw)
	if err != nil {
		return nil, err
	}

	op := &ControlOp{Type: typ}
	switch typ {
	case TypeGetLists:
	case TypeCreate:
		if err := requireContent(raw, "name"); err != nil {
			return nil, err
		}
	case TypeRename:
		if err := requireContent(raw, "id", "name"); err != nil {
			return nil, err
		}
	case TypeListDelete:
		if err := requireContent(raw, "id"); err != nil {
			return nil, err
		}
	default:
		op.Ignored = true
		return op, nil
	}
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, fault.Validation("Malformed control operation.")
	}
	return op, nil
}

func contentType(raw json.RawMessage) (string, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return "", fault.Validation("Message content must be an object.")
	}
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.Type != gjson.String {
		return "", fault.Validation(`Required attribute "type" missing`)
	}
	return typ.String(), nil
}

func requireContent(raw json.RawMessage, fields ...string) error {
	for _, f := range fields {
		if !gjson.GetBytes(raw, f).Exists() {
			return fault.Validation(fmt.Sprintf("Required attribute %q missing", f))
		}
	}
	return nil
}
