package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already canonical", in: "alice", want: "alice"},
		{name: "mixed case hex", in: "0xAbCdEf0123", want: "0xabcdef0123"},
		{name: "surrounding whitespace", in: "  0xabc \t\n", want: "0xabc"},
		{name: "empty", in: "", want: ""},
		{name: "only whitespace", in: " \t ", want: ""},
		{name: "inner whitespace kept", in: " guest 42 ", want: "guest 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"0xABC",
		"  5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY ",
		"Alice",
		"ÄLICE",
		"",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "Normalize must be idempotent for %q", in)
	}
}

func TestNormalizeCaseAndWhitespaceCollapse(t *testing.T) {
	assert.Equal(t, Normalize("0xABC"), Normalize("0xabc "))
	assert.True(t, Equal("0xABC", "0xabc "))
	assert.False(t, Equal("alice", "bob"))
}
