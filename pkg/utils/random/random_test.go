package random

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHex(t *testing.T) {
	a, err := Hex(16)
	require.NoError(t, err)
	b, err := Hex(16)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]+$`), a)
	assert.NotEqual(t, a, b)
}

func TestLowerCaseAlphaString(t *testing.T) {
	s, err := LowerCaseAlphaString(10)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[a-z]{10}$`), s)
}
