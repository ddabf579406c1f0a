package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound action types.
const (
	ActionVote   = "vote"
	ActionReveal = "reveal"
	ActionReset  = "reset"
)

// maxTokenLen bounds a vote token; cards are short ("13", "?", "coffee").
const maxTokenLen = 32

var (
	ErrMalformed     = errors.New("room: malformed message")
	ErrUnknownAction = errors.New("room: unknown action")
	ErrMissingField  = errors.New("room: missing field")
)

// Action is a decoded client message.
type Action struct {
	Type  string
	Value string // vote only
}

type inbound struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ParseAction decodes a client frame. Every error it returns means the frame
// should be dropped; none of them are fatal to the connection.
func ParseAction(b []byte) (Action, error) {
	var in inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch in.Type {
	case ActionReveal, ActionReset:
		return Action{Type: in.Type}, nil
	case ActionVote:
		v, err := parseToken(in.Value)
		if err != nil {
			return Action{}, err
		}
		return Action{Type: ActionVote, Value: v}, nil
	case "":
		return Action{}, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, in.Type)
	}
}

// parseToken accepts a JSON string or number. Numbers keep their literal text
// so 5 and "5" are the same card.
func parseToken(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: value", ErrMissingField)
	}

	var tok string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &tok); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		tok = n.String()
	default:
		return "", fmt.Errorf("%w: value must be a string or number", ErrMalformed)
	}

	if tok == "" {
		return "", fmt.Errorf("%w: value", ErrMissingField)
	}
	if len(tok) > maxTokenLen {
		return "", fmt.Errorf("%w: value longer than %d bytes", ErrMalformed, maxTokenLen)
	}
	return tok, nil
}

// State is a full room snapshot.
type State struct {
	Votes    map[string]string `json:"votes"`
	Revealed bool              `json:"revealed"`
}

type stateMessage struct {
	Type string `json:"type"`
	State
}

// EncodeState renders the server -> client "state" frame.
func EncodeState(s State) ([]byte, error) {
	if s.Votes == nil {
		s.Votes = map[string]string{}
	}
	return json.Marshal(stateMessage{Type: "state", State: s})
}
