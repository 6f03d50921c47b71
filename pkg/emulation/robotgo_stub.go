//go:build !robotgo

package emulation

import (
	"fmt"

	"go.uber.org/zap"

	"serial-input-monitor/pkg/dispatch"
)

// Stub used when the binary is built without the robotgo tag

func newRobotgo(logger *zap.Logger) (dispatch.Backend, error) {
	return nil, fmt.Errorf("robotgo backend not compiled in (rebuild with -tags robotgo)")
}
