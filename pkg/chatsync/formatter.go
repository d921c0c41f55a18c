package chatsync

import (
	"github.com/go-go-golems/chatsync/pkg/frame"
	"github.com/go-go-golems/chatsync/pkg/stream"
)

// Formatter turns an inbound message into its display text and origin label.
type Formatter interface {
	Format(msg stream.InboundMessage) (display string, origin string)
}

type FormatterFunc func(stream.InboundMessage) (string, string)

func (f FormatterFunc) Format(msg stream.InboundMessage) (string, string) { return f(msg) }

func DefaultPrefixes() map[string]string {
	return map[string]string{
		"test": "Message: ",
		"time": "Time update: ",
	}
}

// PrefixFormatter prefixes raw text by provenance. Structured chat payloads
// display their message verbatim with the side as origin.
type PrefixFormatter struct {
	prefixes map[string]string
}

func NewPrefixFormatter(prefixes map[string]string) *PrefixFormatter {
	p := make(map[string]string, len(prefixes))
	for k, v := range prefixes {
		p[k] = v
	}
	return &PrefixFormatter{prefixes: p}
}

func (p *PrefixFormatter) Format(msg stream.InboundMessage) (string, string) {
	switch msg.Payload.Kind {
	case frame.KindStructuredChat:
		if msg.Payload.Side == "" {
			return msg.Payload.Text, msg.Provenance
		}
		return msg.Payload.Text, msg.Payload.Side
	default:
		return p.prefixes[msg.Provenance] + msg.Payload.Text, msg.Provenance
	}
}
