package rate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoLimiter(t *testing.T) {
	l := &NoLimiter{}
	for i := 0; i < 10000; i++ {
		assert.True(t, l.Allow(""))
	}
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(2)

	for i := 0; i < 2; i++ {
		assert.True(t, l.Allow("payer-a"))
	}
	assert.False(t, l.Allow("payer-a"))

	// Keys are limited independently
	for i := 0; i < 2; i++ {
		assert.True(t, l.Allow("payer-b"))
	}
	assert.False(t, l.Allow("payer-b"))
}

func TestLocalLimiter_FractionalRate(t *testing.T) {
	l := NewLocalLimiter(0.001)

	assert.True(t, l.Allow("payer"))
	assert.False(t, l.Allow("payer"))
}
