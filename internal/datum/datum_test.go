package datum

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"true", Bool(true), "true"},
		{"false", Bool(false), "false"},
		{"zero int", Int(0), "0"},
		{"negative int", Int(-17), "-17"},
		{"whole float keeps point", Float(42), "42.0"},
		{"zero float", Float(0), "0.0"},
		{"negative float", Float(-3.25), "-3.25"},
		{"fractional float", Float(21.5), "21.5"},
		{"zero value is float", Value{}, "0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in       string
		wantKind Kind
		wantStr  string
		wantErr  bool
	}{
		{"true", KindBool, "true", false},
		{"false", KindBool, "false", false},
		{"1", KindInt, "1", false},
		{"-42", KindInt, "-42", false},
		{"42.0", KindFloat, "42.0", false},
		{"-0.5", KindFloat, "-0.5", false},
		{"1e3", KindFloat, "1000.0", false},
		{"True", "", "", true},
		{"", "", "", true},
		{"warm", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseValue(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("ParseValue(%q) error = %v, want ErrMalformed", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseValue(%q) error = %v", tt.in, err)
			}
			if v.Kind() != tt.wantKind {
				t.Errorf("Kind() = %s, want %s", v.Kind(), tt.wantKind)
			}
			if v.String() != tt.wantStr {
				t.Errorf("String() = %q, want %q", v.String(), tt.wantStr)
			}
		})
	}
}

func TestValueAccessors(t *testing.T) {
	if _, err := Int(3).AsFloat(); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Int.AsFloat() error = %v, want ErrKindMismatch", err)
	}
	if _, err := Float(3).AsBool(); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Float.AsBool() error = %v, want ErrKindMismatch", err)
	}
	if b, err := Bool(true).AsBool(); err != nil || !b {
		t.Errorf("Bool.AsBool() = %v, %v", b, err)
	}
	if n, ok := Int(7).Number(); !ok || n != 7 {
		t.Errorf("Int.Number() = %v, %v", n, ok)
	}
	if _, ok := Bool(true).Number(); ok {
		t.Error("Bool.Number() ok = true, want false")
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"bool", "int", "float", " Float "} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q) error = %v", s, err)
		}
	}
	if _, err := ParseKind("string"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(string) error = %v, want ErrUnknownKind", err)
	}
}

func TestParseUnit(t *testing.T) {
	for _, s := range []string{"", "⏼", "°C"} {
		if _, err := ParseUnit(s); err != nil {
			t.Errorf("ParseUnit(%q) error = %v", s, err)
		}
	}
	if _, err := ParseUnit("K"); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("ParseUnit(K) error = %v, want ErrUnknownUnit", err)
	}
}

func TestDatumRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	tests := []struct {
		name  string
		value Value
		unit  Unit
	}{
		{"zero float", Float(0), DegreesC},
		{"negative float", Float(-12.75), DegreesC},
		{"fractional float", Float(21.5), DegreesC},
		{"whole float", Float(42), Unitless},
		{"zero int", Int(0), Unitless},
		{"negative int", Int(-3), Unitless},
		{"bool", Bool(true), PoweredOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.value, tt.unit, ts)

			got, err := Parse(d.String())
			if err != nil {
				t.Fatalf("Parse(%s) error = %v", d, err)
			}
			if got.Value() != d.Value() {
				t.Errorf("Value() = %v, want %v", got.Value(), d.Value())
			}
			if got.Value().Kind() != tt.value.Kind() {
				t.Errorf("Kind() = %s, want %s", got.Value().Kind(), tt.value.Kind())
			}
			if got.Unit() != d.Unit() {
				t.Errorf("Unit() = %q, want %q", got.Unit(), d.Unit())
			}
			if !got.Timestamp().Equal(d.Timestamp()) {
				t.Errorf("Timestamp() = %v, want %v", got.Timestamp(), d.Timestamp())
			}
		})
	}
}

func TestDatumWireFormat(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	d := New(Float(21.5), DegreesC, ts)

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"value":"21.5","unit":"°C","timestamp":"2026-01-02T02:04:05.000000000Z"}`
	if string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
}

func TestDatumNestedInStruct(t *testing.T) {
	type aggregate struct {
		ID    string  `json:"id"`
		Datum []Datum `json:"datum"`
	}

	in := aggregate{ID: "thermo-1", Datum: []Datum{Now(Float(21.5), DegreesC)}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var out aggregate
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(out.Datum) != 1 || out.Datum[0].Value().String() != "21.5" {
		t.Errorf("round trip = %+v", out)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "21.5"},
		{"missing value", `{"unit":"°C","timestamp":"2026-01-02T02:04:05Z"}`},
		{"bad value", `{"value":"hot","unit":"°C","timestamp":"2026-01-02T02:04:05Z"}`},
		{"bad unit", `{"value":"1","unit":"F","timestamp":"2026-01-02T02:04:05Z"}`},
		{"bad timestamp", `{"value":"1","unit":"","timestamp":"yesterday"}`},
		{"missing timestamp", `{"value":"1","unit":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDatumOrdering(t *testing.T) {
	older := New(Float(1), DegreesC, time.Unix(100, 0))
	newer := New(Float(2), DegreesC, time.Unix(200, 0))

	if !newer.Newer(older) {
		t.Error("Newer() = false, want true")
	}
	if older.Newer(newer) {
		t.Error("older.Newer(newer) = true, want false")
	}
	if !(Datum{}).IsZero() {
		t.Error("zero Datum IsZero() = false")
	}
	if strings.Contains(newer.String(), "+") {
		t.Errorf("timestamp not UTC: %s", newer)
	}
}
