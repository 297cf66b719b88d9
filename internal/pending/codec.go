package pending

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

// Wire field numbers of a persisted event.
const (
	fieldSource    protowire.Number = 1
	fieldMessage   protowire.Number = 2
	fieldSeverity  protowire.Number = 3
	fieldTimestamp protowire.Number = 4
)

// Marshal encodes an event in protobuf wire format. The timestamp field is
// omitted when the event has none, so presence survives a round trip.
func Marshal(ev alert.Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
	b = protowire.AppendString(b, ev.Source)
	b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
	b = protowire.AppendString(b, ev.Message)
	b = protowire.AppendTag(b, fieldSeverity, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.Severity))
	if ev.Timestamp != nil {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(*ev.Timestamp))
	}
	return b
}

// Unmarshal decodes an event written by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (alert.Event, error) {
	var ev alert.Event
	var sawSeverity bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return alert.Event{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSource && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return alert.Event{}, fmt.Errorf("%w: source: %v", ErrCorrupt, protowire.ParseError(n))
			}
			ev.Source = v
			b = b[n:]
		case num == fieldMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return alert.Event{}, fmt.Errorf("%w: message: %v", ErrCorrupt, protowire.ParseError(n))
			}
			ev.Message = v
			b = b[n:]
		case num == fieldSeverity && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return alert.Event{}, fmt.Errorf("%w: severity: %v", ErrCorrupt, protowire.ParseError(n))
			}
			ev.Severity = alert.Severity(v)
			sawSeverity = true
			b = b[n:]
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return alert.Event{}, fmt.Errorf("%w: timestamp: %v", ErrCorrupt, protowire.ParseError(n))
			}
			ts := protowire.DecodeZigZag(v)
			ev.Timestamp = &ts
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return alert.Event{}, fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !sawSeverity || !ev.Severity.Valid() {
		return alert.Event{}, fmt.Errorf("%w: missing or invalid severity", ErrCorrupt)
	}
	return ev, nil
}
