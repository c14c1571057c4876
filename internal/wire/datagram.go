// Package wire implements the framed, encrypted record layer: the
// Datagram JSON schema, RFC 1924 base85 transport encoding, and the
// length-prefixed Framer built on top of both.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Command tags understood by the dispatch table.
const (
	CmdShake = int8(-1)
	CmdErr   = int8(0)
	CmdResp  = int8(1)
	CmdLogin = int8(2)
)

// Error codes carried in ERR datagrams.
const (
	ErrNoConnection  = int(-1)
	ErrDisconnect    = int(0)
	ErrCredentials   = int(1)
	ErrHMAC          = int(2)
	ErrChallenge     = int(3)
	ErrVerification  = int(4)
)

// ErrorInfo maps an error code to its fixed human-readable description.
var ErrorInfo = map[int]string{
	ErrNoConnection: "no connection",
	ErrDisconnect:   "disconnect",
	ErrCredentials:  "bad credentials",
	ErrHMAC:         "hmac verification failed",
	ErrChallenge:    "challenge failed",
	ErrVerification: "verification failed",
}

// ErrMalformedDatagram is returned when decoded JSON is missing one of the
// five required keys or has the wrong type for one of them.
var ErrMalformedDatagram = errors.New("malformed datagram")

// Datagram is the framework's unit of message exchange: a tagged,
// JSON-serializable record with exactly five keys, always emitted in this
// order. Absent Sender/Recipient/HMAC serialize as JSON null.
type Datagram struct {
	Command   int8    `json:"command"`
	Sender    *string `json:"sender"`
	Recipient *string `json:"recipient"`
	Data      any     `json:"data"`
	HMAC      *string `json:"hmac"`
}

// datagramWire mirrors Datagram but keeps Command as json.Number so
// UnmarshalJSON can distinguish "missing" from "zero" and reject
// non-numeric commands explicitly.
type datagramWire struct {
	Command   *json.Number `json:"command"`
	Sender    *string      `json:"sender"`
	Recipient *string      `json:"recipient"`
	Data      any          `json:"data"`
	HMAC      *string      `json:"hmac"`
}

// NewDatagram builds a Datagram with the given command and data, leaving
// sender, recipient and hmac unset (they serialize as null).
func NewDatagram(command int8, data any) *Datagram {
	return &Datagram{Command: command, Data: data}
}

// SetSender coerces v to a string (decoding it as UTF-8 if it is a byte
// sequence) and stores it as the sender identity.
func (d *Datagram) SetSender(v any) error {
	s, err := coerceToString(v)
	if err != nil {
		return err
	}
	d.Sender = &s
	return nil
}

// SetRecipient coerces v to a string per spec and stores it as the
// recipient identity.
func (d *Datagram) SetRecipient(v any) error {
	s, err := coerceToString(v)
	if err != nil {
		return err
	}
	d.Recipient = &s
	return nil
}

// SetData coerces byte-sequence values to a UTF-8 string; any other value
// is stored verbatim so it round-trips through JSON unchanged.
func (d *Datagram) SetData(v any) error {
	if b, ok := v.([]byte); ok {
		d.Data = string(b)
		return nil
	}
	d.Data = v
	return nil
}

func coerceToString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

// ToJSON emits the canonical five-key JSON representation.
func (d *Datagram) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromJSON parses s into a Datagram, failing with ErrMalformedDatagram if
// any of the five keys is missing or has the wrong type.
func FromJSON(s []byte) (*Datagram, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(s, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDatagram, err)
	}
	for _, k := range []string{"command", "sender", "recipient", "data", "hmac"} {
		if _, ok := keys[k]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedDatagram, k)
		}
	}

	var w datagramWire
	dec := json.NewDecoder(bytes.NewReader(s))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDatagram, err)
	}
	if w.Command == nil {
		return nil, fmt.Errorf("%w: missing command", ErrMalformedDatagram)
	}
	cmd, err := w.Command.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: command not an integer: %v", ErrMalformedDatagram, err)
	}
	if cmd < -128 || cmd > 127 {
		return nil, fmt.Errorf("%w: command out of int8 range", ErrMalformedDatagram)
	}

	return &Datagram{
		Command:   int8(cmd),
		Sender:    w.Sender,
		Recipient: w.Recipient,
		Data:      w.Data,
		HMAC:      w.HMAC,
	}, nil
}

// Route returns the (sender, recipient) pair, the datagram's derived route.
func (d *Datagram) Route() (sender, recipient string) {
	if d.Sender != nil {
		sender = *d.Sender
	}
	if d.Recipient != nil {
		recipient = *d.Recipient
	}
	return sender, recipient
}
