package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// cmdField is the reserved member holding the command name.
const cmdField = "cmd"

var (
	ErrMissingCommand = errors.New("message has no cmd")
	ErrReservedParam  = errors.New("parameter name is reserved")
)

// Message is a command or response. Params never contains "cmd".
type Message struct {
	Cmd    Command
	Params map[string]any
}

// New builds a message. Params are taken as-is and must not be mutated
// after the message is sent.
func New(cmd Command, params map[string]any) Message {
	if params == nil {
		params = map[string]any{}
	}
	return Message{Cmd: cmd, Params: params}
}

// Has reports whether the parameter is present, including explicit nulls.
func (m Message) Has(name string) bool {
	_, ok := m.Params[name]
	return ok
}

// Value returns the raw parameter.
func (m Message) Value(name string) (any, bool) {
	v, ok := m.Params[name]
	return v, ok
}

// Float returns a numeric parameter. Numbers decoded from JSON arrive as
// float64; numeric strings are accepted the way page scripts coerce them.
func (m Message) Float(name string) (float64, bool) {
	v, ok := m.Params[name]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns an integral parameter, truncating fractional numbers.
func (m Message) Int(name string) (int64, bool) {
	f, ok := m.Float(name)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// Text returns a string parameter.
func (m Message) Text(name string) (string, bool) {
	v, ok := m.Params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MarshalJSON flattens the message into {"cmd": ..., ...params}.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Cmd == "" {
		return nil, ErrMissingCommand
	}
	flat := make(map[string]any, len(m.Params)+1)
	for k, v := range m.Params {
		if k == cmdField {
			return nil, fmt.Errorf("%w: %s", ErrReservedParam, k)
		}
		flat[k] = v
	}
	flat[cmdField] = string(m.Cmd)
	return sonic.Marshal(flat)
}

// UnmarshalJSON reads the flat wire form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := sonic.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	cmd, ok := flat[cmdField].(string)
	if !ok || cmd == "" {
		return ErrMissingCommand
	}
	delete(flat, cmdField)
	m.Cmd = Command(cmd)
	m.Params = flat
	return nil
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	return m.MarshalJSON()
}

// Decode parses a wire frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := m.UnmarshalJSON(data); err != nil {
		return Message{}, err
	}
	return m, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
