package measurement

import (
	"errors"
	"math"
	"strconv"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDecoder() *Decoder {
	return NewDecoder("DHT22", "esp32")
}

func TestDecoder_Decode_Scenario(t *testing.T) {
	m, err := testDecoder().Decode("sensor/dht/temperature", []byte("21.7"), testTime)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	want := Measurement{
		Kind:       KindTemperature,
		Value:      21.7,
		Sensor:     "DHT22",
		Location:   "esp32",
		ObservedAt: testTime,
	}
	if m != want {
		t.Errorf("Decode() = %+v, want %+v", m, want)
	}
}

func TestDecoder_Decode_TemperatureValues(t *testing.T) {
	values := []float64{0, -40, 85, 21.7, 23.5, -0.25, 1e-3, 12345.678}
	d := testDecoder()

	for _, v := range values {
		payload := strconv.FormatFloat(v, 'f', -1, 64)
		t.Run(payload, func(t *testing.T) {
			m, err := d.Decode("esp32/dht/temperature", []byte(payload), testTime)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if m.Kind != KindTemperature {
				t.Errorf("Kind = %v, want temperature", m.Kind)
			}
			if m.Value != v {
				t.Errorf("Value = %v, want %v", m.Value, v)
			}
		})
	}
}

func TestDecoder_Decode(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		payload    string
		wantKind   Kind
		wantValue  float64
		wantReason Reason
		wantErr    error
	}{
		{name: "humidity", topic: "esp32/dht/humidity", payload: "55.2", wantKind: KindHumidity, wantValue: 55.2},
		{name: "surrounding whitespace", topic: "esp32/dht/humidity", payload: " 40\n", wantKind: KindHumidity, wantValue: 40},
		{name: "exponent", topic: "t/temperature", payload: "2.5e1", wantKind: KindTemperature, wantValue: 25},
		{name: "explicit sign", topic: "t/temperature", payload: "+3", wantKind: KindTemperature, wantValue: 3},
		{name: "temperature wins over humidity", topic: "temperature/humidity", payload: "1", wantKind: KindTemperature, wantValue: 1},
		{name: "unknown topic", topic: "esp32/dht/pressure", payload: "1013", wantReason: ReasonUnknownTopic, wantErr: ErrUnknownTopic},
		{name: "unknown topic with bad payload", topic: "esp32/status", payload: "online", wantReason: ReasonUnknownTopic, wantErr: ErrUnknownTopic},
		{name: "abc", topic: "esp32/dht/temperature", payload: "abc", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "empty", topic: "esp32/dht/temperature", payload: "", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "blank", topic: "esp32/dht/temperature", payload: "   ", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "hex float", topic: "esp32/dht/temperature", payload: "0x1p4", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "negative hex", topic: "esp32/dht/temperature", payload: "-0X10", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "digit separator", topic: "esp32/dht/temperature", payload: "1_000", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "trailing unit", topic: "esp32/dht/temperature", payload: "21.7C", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "json", topic: "esp32/dht/temperature", payload: `{"v":1}`, wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
		{name: "nan", topic: "esp32/dht/temperature", payload: "NaN", wantReason: ReasonInvalidValue, wantErr: ErrNonFinite},
		{name: "inf", topic: "esp32/dht/temperature", payload: "-Inf", wantReason: ReasonInvalidValue, wantErr: ErrNonFinite},
		{name: "overflow", topic: "esp32/dht/temperature", payload: "1e400", wantReason: ReasonInvalidValue, wantErr: ErrInvalidValue},
	}

	d := testDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := d.Decode(tt.topic, []byte(tt.payload), testTime)

			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("Decode() = %+v, want error %v", m, tt.wantErr)
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Decode() error = %v, want errors.Is %v", err, tt.wantErr)
				}
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("Decode() error type = %T, want *DecodeError", err)
				}
				if de.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", de.Reason, tt.wantReason)
				}
				if m != (Measurement{}) {
					t.Errorf("Decode() produced %+v alongside an error", m)
				}
				return
			}

			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if m.Kind != tt.wantKind || m.Value != tt.wantValue {
				t.Errorf("Decode() = {%v %v}, want {%v %v}", m.Kind, m.Value, tt.wantKind, tt.wantValue)
			}
			if err := m.Validate(); err != nil {
				t.Errorf("decoded measurement fails Validate(): %v", err)
			}
		})
	}
}

func TestDecoder_DecodeEvent(t *testing.T) {
	ev := Event{Topic: "esp32/dht/humidity", Payload: []byte("61"), ReceivedAt: testTime}

	m, err := testDecoder().DecodeEvent(ev)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if !m.ObservedAt.Equal(ev.ReceivedAt) {
		t.Errorf("ObservedAt = %v, want %v", m.ObservedAt, ev.ReceivedAt)
	}
}

func TestDecodeError_TruncatesPayload(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}

	_, err := testDecoder().Decode("a/temperature", long, testTime)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error type = %T, want *DecodeError", err)
	}
	if len(de.Payload) > maxPayloadInError+3 {
		t.Errorf("Payload length = %d, want <= %d", len(de.Payload), maxPayloadInError+3)
	}
}

func TestReasonOf(t *testing.T) {
	_, err := testDecoder().Decode("x", []byte("1"), testTime)
	if got := ReasonOf(err); got != ReasonUnknownTopic {
		t.Errorf("ReasonOf() = %q, want %q", got, ReasonUnknownTopic)
	}
	if got := ReasonOf(errors.New("other")); got != "" {
		t.Errorf("ReasonOf(other) = %q, want empty", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		value   float64
		at      time.Time
		wantErr error
	}{
		{name: "valid", kind: KindHumidity, value: 50, at: testTime},
		{name: "nan", kind: KindHumidity, value: math.NaN(), at: testTime, wantErr: ErrNonFinite},
		{name: "inf", kind: KindTemperature, value: math.Inf(1), at: testTime, wantErr: ErrNonFinite},
		{name: "unknown kind", kind: KindUnknown, value: 1, at: testTime, wantErr: ErrInvalidMeasurement},
		{name: "zero time", kind: KindTemperature, value: 1, wantErr: ErrInvalidMeasurement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.kind, tt.value, "DHT22", "esp32", tt.at)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("New() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	for _, k := range []Kind{KindTemperature, KindHumidity} {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v, want %v", k.String(), got, ok, k)
		}
	}
	if KindUnknown.String() != "unknown" {
		t.Errorf("KindUnknown.String() = %q", KindUnknown.String())
	}
	if _, ok := ParseKind("pressure"); ok {
		t.Error("ParseKind(pressure) ok = true, want false")
	}
}

func TestMeasurement_Tags(t *testing.T) {
	m := Measurement{Sensor: "DHT22", Location: "esp32"}
	tags := m.Tags()
	if tags[TagSensor] != "DHT22" || tags[TagLocation] != "esp32" {
		t.Errorf("Tags() = %v", tags)
	}
}
