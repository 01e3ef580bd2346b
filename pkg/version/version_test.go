package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullCarriesProductPrefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), "parley/"))
}

func TestShortenCapsAtEightChars(t *testing.T) {
	assert.Equal(t, "a3f8c2d1", shorten("a3f8c2d1e9b70456"))
	assert.Equal(t, "dev", shorten("dev"))
}
