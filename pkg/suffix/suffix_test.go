package suffix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/name"
)

func TestBaseDomain(t *testing.T) {
	r := New()

	tests := []struct {
		input string
		want  string
	}{
		{input: "foo.com.au", want: "foo.com.au"},
		{input: "www.foo.com.au", want: "foo.com.au"},
		{input: "example.com", want: "example.com"},
		{input: "a.b.example.com", want: "example.com"},
		{input: "myhost.local", want: "local"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := r.BaseDomain(name.MustParse(tc.input))
			require.True(t, ok)
			assert.Equal(t, name.MustParse(tc.want), got)
		})
	}
}

func TestBaseDomainEmpty(t *testing.T) {
	r := New()
	_, ok := r.BaseDomain(name.Name{})
	assert.False(t, ok)
}
