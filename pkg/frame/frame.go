// Package frame decodes raw transport frames into chat payloads.
//
// A payload is a small tagged variant: raw text as delivered by a
// publish/subscribe broker, or a structured chat object as delivered by the
// websocket transport. Decoding happens once, at the channel boundary, so the
// rest of the pipeline never sees schema-less data.
package frame

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindRawText Kind = iota
	KindStructuredChat
)

func (k Kind) String() string {
	switch k {
	case KindRawText:
		return "raw_text"
	case KindStructuredChat:
		return "structured_chat"
	default:
		return "unknown"
	}
}

// Payload is an immutable decoded frame. Side is only set for KindStructuredChat.
type Payload struct {
	Kind Kind
	Text string
	Side string
}

func RawText(text string) Payload {
	return Payload{Kind: KindRawText, Text: text}
}

func StructuredChat(side, message string) Payload {
	return Payload{Kind: KindStructuredChat, Text: message, Side: side}
}

// DecodeError reports a frame that could not be interpreted. Such frames are
// dropped by the consumer, never treated as fatal.
type DecodeError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode " + e.Kind.String() + ": " + e.Reason + ": " + e.Err.Error()
	}
	return "decode " + e.Kind.String() + ": " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns one raw frame into a Payload.
type Decoder interface {
	Kind() Kind
	Decode(data []byte) (Payload, error)
}

type DecoderFunc struct {
	kind Kind
	fn   func([]byte) (Payload, error)
}

func (d DecoderFunc) Kind() Kind                          { return d.kind }
func (d DecoderFunc) Decode(data []byte) (Payload, error) { return d.fn(data) }

var (
	RawTextDecoder        Decoder = DecoderFunc{kind: KindRawText, fn: DecodeRawText}
	StructuredChatDecoder Decoder = DecoderFunc{kind: KindStructuredChat, fn: DecodeStructuredChat}
)

func DecodeRawText(data []byte) (Payload, error) {
	if !utf8.Valid(data) {
		return Payload{}, &DecodeError{Kind: KindRawText, Reason: "payload is not valid utf-8"}
	}
	return RawText(string(data)), nil
}

// ChatFrame is the wire shape of a structured chat message.
type ChatFrame struct {
	Side    string  `json:"side,omitempty"`
	Message *string `json:"message"`
}

func DecodeStructuredChat(data []byte) (Payload, error) {
	if !utf8.Valid(data) {
		return Payload{}, &DecodeError{Kind: KindStructuredChat, Reason: "payload is not valid utf-8"}
	}
	var f ChatFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Payload{}, &DecodeError{Kind: KindStructuredChat, Reason: "invalid json", Err: err}
	}
	if f.Message == nil {
		return Payload{}, &DecodeError{Kind: KindStructuredChat, Reason: "missing message field"}
	}
	return StructuredChat(strings.TrimSpace(f.Side), *f.Message), nil
}

// EncodeStructuredChat renders the wire form used by the websocket transport
// and the outbound HTTP endpoint.
func EncodeStructuredChat(side, message string) ([]byte, error) {
	b, err := json.Marshal(ChatFrame{Side: side, Message: &message})
	if err != nil {
		return nil, errors.Wrap(err, "encode chat frame")
	}
	return b, nil
}
