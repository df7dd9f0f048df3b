// Package notify defines the renderer boundaries the countdown engine drives
// (badge, desktop notifications, sound) and their default implementations.
package notify

import "context"

// BadgeRenderer presents the countdown state to the user, e.g. a status-bar
// segment. SetBadge replaces the whole rendering; Clear resets it to neutral.
type BadgeRenderer interface {
	SetBadge(text, color string) error
	Clear() error
}

// Notifier raises a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// SoundPlayer plays alert sounds: pre-packaged ones by name, uploaded ones by
// storage ID.
type SoundPlayer interface {
	PlayPackaged(ctx context.Context, name string) error
	PlayCustom(ctx context.Context, id string) error
}
