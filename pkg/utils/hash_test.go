package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashQueryNormalizes(t *testing.T) {
	base := HashQuery("what are the parking rules")

	assert.Equal(t, base, HashQuery("What Are The Parking Rules"))
	assert.Equal(t, base, HashQuery("  what are the parking rules \n"))
	assert.NotEqual(t, base, HashQuery("what are the noise rules"))
	assert.Len(t, base, 32)
}
