//go:build !robotgo

package emulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RobotgoNotCompiledIn(t *testing.T) {
	b, err := New("robotgo", nil)
	assert.Nil(t, b)
	assert.ErrorContains(t, err, "-tags robotgo")
}
