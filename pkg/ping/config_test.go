package ping

import (
	"errors"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.Size != DefaultSize {
		t.Errorf("default size = %d, want %d", c.Size, DefaultSize)
	}
	if c.Timeout != DefaultTimeout {
		t.Errorf("default timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	if err := c.validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"size too small", Config{Size: 8}, ErrInvalidSize},
		{"size too big", Config{Size: 70000}, ErrInvalidSize},
		{"size minimum ok", Config{Size: 16}, nil},
		{"size maximum ok", Config{Size: 65507}, nil},
		{"ttl too big", Config{TTL: 256}, ErrInvalidTTL},
		{"ttl negative", Config{TTL: -1}, ErrInvalidTTL},
		{"ttl max ok", Config{TTL: 255}, nil},
		{"tos too big", Config{ToS: 256}, ErrInvalidToS},
		{"tos ok", Config{ToS: 0x28}, nil},
		{"negative timeout", Config{Timeout: -time.Second}, ErrInvalidTimeout},
		{"negative interval", Config{Interval: -time.Second}, ErrInvalidInterval},
		{"zero interval ok", Config{Interval: 0}, nil},
		{"bad policy", Config{Policy: SelectionPolicy(42)}, ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.withDefaults().validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]SelectionPolicy{
		"":      PolicyAuto,
		"auto":  PolicyAuto,
		"RAW":   PolicyRaw,
		"dgram": PolicyDgram,
	} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("icmp"); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("unknown policy should be rejected, got %v", err)
	}
}
