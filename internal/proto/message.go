package proto

import (
	"encoding/json"

	"github.com/pathfinderd/pathfinder/internal/props"
)

// Message is a decoded wire message: the envelope fields plus whatever
// per-command body fields the transaction type declares.
type Message struct {
	Cmd     Cmd
	TaID    int64
	MsgType MsgType
	Body    map[string]any
}

// Decode parses one JSON document into a validated Message. protoVersion
// selects which per-version field table governs validation; pass 0 before
// the hello handshake has completed. Version 0 falls back to MinVersion for
// lookup (hello is registered identically in every version), so any
// command decoded at version 0 is validated against MinVersion's table.
func Decode(raw []byte, protoVersion int) (*Message, error) {
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ProtocolError{"malformed JSON message: " + err.Error()}
	}

	cmd, err := pullString(wire, fieldTaCmd, false)
	if err != nil {
		return nil, err
	}
	taID, err := pullInt(wire, fieldTaID, false)
	if err != nil {
		return nil, err
	}
	msgType, err := pullString(wire, fieldMsgType, false)
	if err != nil {
		return nil, err
	}

	lookupVersion := protoVersion
	if lookupVersion == 0 {
		lookupVersion = MinVersion
	}
	ta, err := Lookup(lookupVersion, Cmd(cmd))
	if err != nil {
		return nil, err
	}

	required, optional := ta.fields(MsgType(msgType))
	body := make(map[string]any, len(required)+len(optional))
	for _, spec := range required {
		v, err := pullField(wire, spec, false)
		if err != nil {
			return nil, err
		}
		body[spec.Name] = v
	}
	for _, spec := range optional {
		v, err := pullField(wire, spec, true)
		if err != nil {
			return nil, err
		}
		if v != nil {
			body[spec.Name] = v
		}
	}

	if len(wire) > 0 {
		for k := range wire {
			return nil, &ProtocolError{"message carries unexpected field \"" + k + "\""}
		}
	}

	return &Message{Cmd: Cmd(cmd), TaID: int64(taID), MsgType: MsgType(msgType), Body: body}, nil
}

// Encode serializes a Message back to its wire JSON form.
func Encode(m *Message) ([]byte, error) {
	wire := make(map[string]any, len(m.Body)+3)
	wire[fieldTaCmd] = string(m.Cmd)
	wire[fieldTaID] = m.TaID
	wire[fieldMsgType] = string(m.MsgType)
	for k, v := range m.Body {
		if p, ok := v.(props.Map); ok {
			wire[k] = p.ToWire()
			continue
		}
		wire[k] = v
	}
	return json.Marshal(wire)
}

func pullField(wire map[string]any, spec FieldSpec, opt bool) (any, error) {
	switch spec.Kind {
	case KindString:
		return pullStringField(wire, spec.Name, opt)
	case KindInt:
		return pullIntField(wire, spec.Name, opt)
	case KindNumber:
		return pullNumberField(wire, spec.Name, opt)
	case KindProps:
		return pullPropsField(wire, spec.Name, opt)
	default:
		return nil, &ProtocolError{"internal: unknown field kind for " + spec.Name}
	}
}

func pullString(wire map[string]any, name string, opt bool) (string, error) {
	v, err := pullRaw(wire, name, opt)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &ProtocolError{"message field " + name + " is not a string"}
	}
	return s, nil
}

func pullStringField(wire map[string]any, name string, opt bool) (any, error) {
	v, err := pullRaw(wire, name, opt)
	if err != nil || v == nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, &ProtocolError{"message field " + name + " is not a string"}
	}
	return s, nil
}

const nonNegativeIntMax = int64(1<<63 - 1)

func pullInt(wire map[string]any, name string, opt bool) (int64, error) {
	v, err := pullRaw(wire, name, opt)
	if err != nil || v == nil {
		return 0, err
	}
	return validateInt(name, v)
}

func pullIntField(wire map[string]any, name string, opt bool) (any, error) {
	v, err := pullRaw(wire, name, opt)
	if err != nil || v == nil {
		return nil, err
	}
	n, err := validateInt(name, v)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func validateInt(name string, v any) (int64, error) {
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, &ProtocolError{"message field " + name + " is not an integer"}
	}
	n := int64(f)
	if n < 0 {
		return 0, &ProtocolError{"message field " + name + " has a negative value"}
	}
	if n > nonNegativeIntMax {
		return 0, &ProtocolError{"message field " + name + " is too large to be represented in a signed 64-bit integer"}
	}
	return n, nil
}

func pullNumberField(wire map[string]any, name string, opt bool) (any, error) {
	v, err := pullRaw(wire, name, opt)
	if err != nil || v == nil {
		return nil, err
	}
	f, ok := v.(float64)
	if !ok {
		return nil, &ProtocolError{"message field " + name + " is not a number"}
	}
	if f < 0 {
		return nil, &ProtocolError{"message field " + name + " has a negative value"}
	}
	return f, nil
}

func pullPropsField(wire map[string]any, name string, opt bool) (any, error) {
	v, err := pullRaw(wire, name, opt)
	if err != nil || v == nil {
		return nil, err
	}
	rawMap, ok := v.(map[string]any)
	if !ok {
		return nil, &ProtocolError{"value for field " + name + " is not an object"}
	}
	wireProps := make(map[string][]any, len(rawMap))
	for k, vv := range rawMap {
		list, ok := vv.([]any)
		if !ok {
			return nil, &ProtocolError{"service property value for key \"" + k + "\" is not a list"}
		}
		wireProps[k] = list
	}
	p, err := props.FromWire(wireProps)
	if err != nil {
		return nil, &ProtocolError{err.Error()}
	}
	return p, nil
}

func pullRaw(wire map[string]any, name string, opt bool) (any, error) {
	v, ok := wire[name]
	if !ok {
		if opt {
			return nil, nil
		}
		return nil, &ProtocolError{"message is missing required field \"" + name + "\""}
	}
	delete(wire, name)
	return v, nil
}

// Helpers used by internal/session to read typed body fields without
// re-deriving the kind at each call site.

func (m *Message) String(name string) (string, bool) {
	v, ok := m.Body[name]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, ok
}

func (m *Message) Int(name string) (int64, bool) {
	v, ok := m.Body[name]
	if !ok {
		return 0, false
	}
	n, _ := v.(int64)
	return n, ok
}

func (m *Message) Number(name string) (float64, bool) {
	v, ok := m.Body[name]
	if !ok {
		return 0, false
	}
	f, _ := v.(float64)
	return f, ok
}

func (m *Message) Props(name string) (props.Map, bool) {
	v, ok := m.Body[name]
	if !ok {
		return nil, false
	}
	p, _ := v.(props.Map)
	return p, ok
}
