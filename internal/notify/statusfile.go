package notify

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// StatusFileBadge renders the badge as a small JSON file written atomically,
// in the shape status bars (waybar, polybar custom scripts) consume.
type StatusFileBadge struct {
	path   string
	logger *zap.Logger
}

// NewStatusFileBadge constructs a StatusFileBadge writing to path.
func NewStatusFileBadge(path string, logger *zap.Logger) *StatusFileBadge {
	return &StatusFileBadge{path: path, logger: logger}
}

var _ BadgeRenderer = (*StatusFileBadge)(nil)

type badgePayload struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// SetBadge writes the badge text and color.
func (b *StatusFileBadge) SetBadge(text, color string) error {
	b.logger.Debug("badge", zap.String("text", text), zap.String("color", color))
	return b.write(badgePayload{Text: text, Color: color})
}

// Clear resets the badge to an empty rendering.
func (b *StatusFileBadge) Clear() error {
	return b.write(badgePayload{})
}

func (b *StatusFileBadge) write(p badgePayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".badge-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, b.path)
}
