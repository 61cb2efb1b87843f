package jsontime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
)

func TestDuration_JSON(t *testing.T) {
	d := Duration(90 * time.Minute)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(b) != `"1h30m0s"` {
		t.Errorf("Marshal = %s", b)
	}

	for _, tt := range []struct {
		in   string
		want time.Duration
	}{
		{`"45s"`, 45 * time.Second},
		{`"1h30m"`, 90 * time.Minute},
		{`1500000000`, 1500 * time.Millisecond},
		{`null`, 0},
	} {
		var got Duration
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("Unmarshal %s: %v", tt.in, err)
		}
		if got.Duration() != tt.want {
			t.Errorf("Unmarshal %s = %v, want %v", tt.in, got, tt.want)
		}
	}

	var d2 Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d2); err == nil {
		t.Error("invalid duration string accepted")
	}
}

func TestDuration_YAML(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want time.Duration
	}{
		{"45s", 45 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"1500000000", 1500 * time.Millisecond},
	} {
		var got Duration
		if err := yaml.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("Unmarshal %q: %v", tt.in, err)
		}
		if got.Duration() != tt.want {
			t.Errorf("Unmarshal %q = %v, want %v", tt.in, got, tt.want)
		}
	}

	var bad Duration
	if err := yaml.Unmarshal([]byte("soon"), &bad); err == nil {
		t.Error("invalid duration string accepted")
	}

	b, err := yaml.Marshal(Duration(45 * time.Second))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var back Duration
	if err := yaml.Unmarshal(b, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Duration() != 45*time.Second {
		t.Errorf("round trip = %v", back)
	}
}

func TestDuration_NilReceiver(t *testing.T) {
	var d *Duration
	if d.Duration() != 0 {
		t.Error("nil receiver should report zero")
	}
}

func TestDuration_StructField(t *testing.T) {
	type cfg struct {
		Timeout Duration `yaml:"timeout,omitzero"`
	}
	var c cfg
	if err := yaml.Unmarshal([]byte("timeout: 30s\n"), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Timeout.Duration() != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
}
