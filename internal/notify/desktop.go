package notify

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// DesktopNotifier raises OS notifications through beeep.
type DesktopNotifier struct {
	logger *zap.Logger
}

// NewDesktopNotifier constructs a DesktopNotifier.
func NewDesktopNotifier(logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{logger: logger}
}

var _ Notifier = (*DesktopNotifier)(nil)

// Notify shows a desktop notification; failures are logged, not fatal.
func (n *DesktopNotifier) Notify(title, message string) error {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Warn("desktop notification failed", zap.Error(err))
		return err
	}
	return nil
}
