//go:build robotgo

package emulation

import (
	"github.com/go-vgo/robotgo"
	"go.uber.org/zap"

	"serial-input-monitor/pkg/dispatch"
)

// robotgoBackend injects events into the desktop session
type robotgoBackend struct {
	logger *zap.Logger
}

func newRobotgo(logger *zap.Logger) (dispatch.Backend, error) {
	return &robotgoBackend{logger: logger.Named("robotgo")}, nil
}

func (b *robotgoBackend) Press(name string) error {
	return robotgo.KeyDown(name)
}

func (b *robotgoBackend) Release(name string) error {
	return robotgo.KeyUp(name)
}

func (b *robotgoBackend) ClickLeft() error {
	robotgo.Click("left")
	return nil
}

func (b *robotgoBackend) ClickRight() error {
	robotgo.Click("right")
	return nil
}

func (b *robotgoBackend) SetPosition(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (b *robotgoBackend) MoveRelative(dx, dy int) error {
	robotgo.MoveRelative(dx, dy)
	return nil
}

func (b *robotgoBackend) Scroll(amount int) error {
	robotgo.Scroll(0, amount)
	return nil
}
