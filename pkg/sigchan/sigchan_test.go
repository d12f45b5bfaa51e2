package sigchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitCoalesces(t *testing.T) {
	c := New(0)
	assert.True(t, c.Emit())
	assert.False(t, c.Emit())

	select {
	case <-c.C():
	default:
		t.Fatal("expected a pending signal")
	}
	assert.Equal(t, 0, c.Drain())

	c.Emit()
	assert.Equal(t, 1, c.Drain())
}
