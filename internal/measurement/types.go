package measurement

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies what a Measurement measures.
type Kind uint8

const (
	// KindUnknown is the zero value and never appears in a valid Measurement.
	KindUnknown Kind = iota
	KindTemperature
	KindHumidity
)

// String returns the point measurement name written to the sink.
func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindHumidity:
		return "humidity"
	default:
		return "unknown"
	}
}

// ParseKind maps a measurement name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "temperature":
		return KindTemperature, true
	case "humidity":
		return KindHumidity, true
	default:
		return KindUnknown, false
	}
}

// Tag keys carried by every point.
const (
	TagSensor   = "sensor"
	TagLocation = "location"

	// FieldValue is the single field name carried by every point.
	FieldValue = "value"
)

// Measurement is one decoded sensor reading.
type Measurement struct {
	Kind       Kind
	Value      float64
	Sensor     string
	Location   string
	ObservedAt time.Time
}

// New constructs a validated Measurement.
func New(kind Kind, value float64, sensor, location string, observedAt time.Time) (Measurement, error) {
	m := Measurement{
		Kind:       kind,
		Value:      value,
		Sensor:     sensor,
		Location:   location,
		ObservedAt: observedAt,
	}
	if err := m.Validate(); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

// Validate reports whether m may enter the delivery pipeline.
func (m Measurement) Validate() error {
	if m.Kind != KindTemperature && m.Kind != KindHumidity {
		return fmt.Errorf("%w: kind %d", ErrInvalidMeasurement, m.Kind)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("%w: %w", ErrInvalidMeasurement, ErrNonFinite)
	}
	if m.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMeasurement)
	}
	return nil
}

// Tags returns the point tags for m.
func (m Measurement) Tags() map[string]string {
	return map[string]string{
		TagSensor:   m.Sensor,
		TagLocation: m.Location,
	}
}

// Event is a raw message as received from the broker.
type Event struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}
