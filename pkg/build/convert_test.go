package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlignment(t *testing.T) {
	cases := map[string]Alignment{
		"none":        AlignmentNone,
		"NONE":        AlignmentNone,
		" 4-bytes ":   Alignment4Bytes,
		"of-4-bytes":  Alignment4Bytes,
		"8":           Alignment8Bytes,
		"OF-8-BYTES":  Alignment8Bytes,
	}
	for text, want := range cases {
		got, err := ParseAlignment(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, got, text)
	}

	_, err := ParseAlignment("16-bytes")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAlignmentBytes(t *testing.T) {
	assert.Equal(t, 1, AlignmentUnset.Bytes())
	assert.Equal(t, 1, AlignmentNone.Bytes())
	assert.Equal(t, 4, Alignment4Bytes.Bytes())
	assert.Equal(t, 8, Alignment8Bytes.Bytes())
}

func TestParseHostPort(t *testing.T) {
	cases := []struct {
		text string
		want HostPort
	}{
		{"cache-1:11211", HostPort{Host: "cache-1", Port: 11211}},
		{"cache-1", HostPort{Host: "cache-1"}},
		{"redis://cache-2:6379", HostPort{Scheme: "redis", Host: "cache-2", Port: 6379}},
		{"[::1]:11211", HostPort{Host: "::1", Port: 11211}},
		{"fe80::1%zone]", HostPort{Host: "fe80::1%zone]"}},
	}
	for _, tc := range cases {
		got, err := ParseHostPort(tc.text)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestParseHostPortErrors(t *testing.T) {
	for _, text := range []string{"", "   ", "host:abc"} {
		_, err := ParseHostPort(text)
		assert.ErrorIs(t, err, ErrInvalidArgument, text)
	}
}

func TestHostPortString(t *testing.T) {
	hp := HostPort{Scheme: "redis", Host: "cache-2", Port: 6379}
	assert.Equal(t, "redis://cache-2:6379", hp.String())
	assert.Equal(t, "cache-2:6379", hp.Addr())
}
