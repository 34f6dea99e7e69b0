package measurement

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to test a *DecodeError against them.
var (
	// ErrUnknownTopic means the topic names neither temperature nor humidity.
	ErrUnknownTopic = errors.New("measurement: unknown topic")

	// ErrInvalidValue means the payload is not a base-10 float literal.
	ErrInvalidValue = errors.New("measurement: invalid value")

	// ErrNonFinite means the payload parsed to NaN or an infinity.
	ErrNonFinite = errors.New("measurement: value is not finite")

	// ErrInvalidMeasurement is returned by Validate.
	ErrInvalidMeasurement = errors.New("measurement: invalid measurement")
)

// Reason classifies a decode failure. The string form is used as a
// metrics label and in drop logs.
type Reason string

const (
	ReasonUnknownTopic Reason = "unknown_topic"
	ReasonInvalidValue Reason = "invalid_value"
)

// maxPayloadInError caps how much of a bad payload is echoed back.
const maxPayloadInError = 64

// DecodeError describes why an event could not become a Measurement.
type DecodeError struct {
	Reason  Reason
	Topic   string
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q (payload %q): %v", e.Topic, e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(reason Reason, topic string, payload []byte, err error) *DecodeError {
	p := string(payload)
	if len(p) > maxPayloadInError {
		p = p[:maxPayloadInError] + "..."
	}
	return &DecodeError{Reason: reason, Topic: topic, Payload: p, Err: err}
}

// ReasonOf extracts the Reason from err, or "" if err is not a *DecodeError.
func ReasonOf(err error) Reason {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}
