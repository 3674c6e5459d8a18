package base

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MessageType is the "type" discriminator every frame carries
type MessageType string

const (
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeDeposit    MessageType = "deposit"
	MessageTypeWithdrawal MessageType = "withdrawal"
	MessageTypeBalance    MessageType = "balance"
)

// IsControl reports whether t belongs to the heartbeat exchange
func (t MessageType) IsControl() bool {
	return t == MessageTypePing || t == MessageTypePong
}

// Envelope is one inbound frame. For the known domain types Payload holds the
// type's payload object exactly as received; Raw always holds the whole frame.
type Envelope struct {
	Type    MessageType
	Payload json.RawMessage
	Raw     json.RawMessage
}

// ControlMessage is the ping/pong frame
type ControlMessage struct {
	Type MessageType `json:"type"`
}

func NewPing() ControlMessage {
	return ControlMessage{Type: MessageTypePing}
}

// DepositSession is a typed view of a deposit payload, for consumers that want one.
// The backend owns the schema; fields it sends that are not listed here are ignored.
type DepositSession struct {
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Withdrawal is a typed view of a withdrawal payload
type Withdrawal struct {
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Balance is a typed view of a balance payload
type Balance struct {
	AccountID   string          `json:"account_id,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	AmountCents int64           `json:"amount_cents,omitempty"`
	Available   decimal.Decimal `json:"available"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// payloadField names the field carrying the payload of a domain type. It is empty for
// control and extension types.
func payloadField(t MessageType) string {
	switch t {
	case MessageTypeDeposit, MessageTypeWithdrawal, MessageTypeBalance:
		return string(t)
	}
	return ""
}

// ParseEnvelope reads the type discriminator of frame. Payloads of the known domain
// types must be JSON objects but are otherwise left undecoded, so fields this package
// does not model survive untouched.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, &ParseError{Frame: frame, Err: err}
	}

	var msgType MessageType
	if rawType, ok := fields["type"]; ok {
		if err := json.Unmarshal(rawType, &msgType); err != nil {
			return nil, &ParseError{Frame: frame, Err: fmt.Errorf("type is not a string: %w", err)}
		}
	}
	if msgType == "" {
		return nil, &ParseError{Frame: frame, Err: errMissingType}
	}

	env := &Envelope{Type: msgType, Raw: append(json.RawMessage(nil), frame...)}

	if field := payloadField(msgType); field != "" {
		payload := bytes.TrimSpace(fields[field])
		if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
			return nil, &ParseError{Frame: frame, Type: msgType, Err: missingPayload(msgType)}
		}
		if payload[0] != '{' {
			return nil, &ParseError{Frame: frame, Type: msgType, Err: fmt.Errorf("%s payload is not an object", msgType)}
		}
		env.Payload = append(json.RawMessage(nil), payload...)
	}

	return env, nil
}

// DecodePayload unmarshals the payload into v
func (e *Envelope) DecodePayload(v interface{}) error {
	return decodeInto(e.Type, e.Payload, v)
}

// DecodeDeposit decodes a deposit payload into the typed view
func DecodeDeposit(payload json.RawMessage) (*DepositSession, error) {
	var d DepositSession
	if err := decodeInto(MessageTypeDeposit, payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodeWithdrawal decodes a withdrawal payload into the typed view
func DecodeWithdrawal(payload json.RawMessage) (*Withdrawal, error) {
	var w Withdrawal
	if err := decodeInto(MessageTypeWithdrawal, payload, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DecodeBalance decodes a balance payload into the typed view
func DecodeBalance(payload json.RawMessage) (*Balance, error) {
	var b Balance
	if err := decodeInto(MessageTypeBalance, payload, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (e *Envelope) DecodeDeposit() (*DepositSession, error) { return DecodeDeposit(e.Payload) }

func (e *Envelope) DecodeWithdrawal() (*Withdrawal, error) { return DecodeWithdrawal(e.Payload) }

func (e *Envelope) DecodeBalance() (*Balance, error) { return DecodeBalance(e.Payload) }

func decodeInto(t MessageType, payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return missingPayload(t)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return nil
}
