package measurement

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Decoder turns broker events into Measurements tagged with a fixed
// sensor and location. The zero value is not useful; use NewDecoder.
type Decoder struct {
	sensor   string
	location string
}

// NewDecoder returns a Decoder that tags every reading with sensor and location.
func NewDecoder(sensor, location string) *Decoder {
	return &Decoder{sensor: sensor, location: location}
}

// DecodeEvent is Decode applied to an Event.
func (d *Decoder) DecodeEvent(ev Event) (Measurement, error) {
	return d.Decode(ev.Topic, ev.Payload, ev.ReceivedAt)
}

// Decode classifies topic, parses payload and stamps the result with receivedAt.
//
// The topic is checked first: a topic containing "temperature" wins over one
// that also contains "humidity".
func (d *Decoder) Decode(topic string, payload []byte, receivedAt time.Time) (Measurement, error) {
	kind, ok := ClassifyTopic(topic)
	if !ok {
		return Measurement{}, newDecodeError(ReasonUnknownTopic, topic, payload, ErrUnknownTopic)
	}

	value, err := ParseValue(payload)
	if err != nil {
		return Measurement{}, newDecodeError(ReasonInvalidValue, topic, payload, err)
	}

	return Measurement{
		Kind:       kind,
		Value:      value,
		Sensor:     d.sensor,
		Location:   d.location,
		ObservedAt: receivedAt,
	}, nil
}

// ClassifyTopic maps a topic to a Kind by substring.
func ClassifyTopic(topic string) (Kind, bool) {
	switch {
	case strings.Contains(topic, "temperature"):
		return KindTemperature, true
	case strings.Contains(topic, "humidity"):
		return KindHumidity, true
	default:
		return KindUnknown, false
	}
}

// ParseValue parses a plain-text base-10 float. Surrounding whitespace is
// ignored. Hex literals and digit separators are rejected even though
// strconv accepts them.
func ParseValue(payload []byte) (float64, error) {
	s := string(bytes.TrimSpace(payload))
	if s == "" {
		return 0, fmt.Errorf("%w: empty payload", ErrInvalidValue)
	}
	if strings.ContainsRune(s, '_') || hasHexPrefix(s) {
		return 0, fmt.Errorf("%w: not a base-10 literal", ErrInvalidValue)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidValue, ErrNonFinite)
	}
	return v, nil
}

func hasHexPrefix(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
