package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagKey_RoundTrip(t *testing.T) {
	for _, k := range []FlagKey{UserKey(1), GroupKey(42)} {
		got, err := ParseFlagKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
}

func TestParseFlagKey_Errors(t *testing.T) {
	for _, in := range []string{"", "user", "order:1", "group:x"} {
		_, err := ParseFlagKey(in)
		assert.Error(t, err, in)
	}
}
