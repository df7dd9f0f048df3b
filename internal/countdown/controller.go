package countdown

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/notify"
)

// soundTimeout caps how long one alert sound may block the tick loop.
const soundTimeout = 10 * time.Second

// Controller owns the single in-memory countdown value and at most one live
// ticking timer. Start replaces any previous run; timers are never stacked.
// The countdown stops at the first non-positive tick after a final
// evaluation at that value; only a new Start or Clear changes state after.
type Controller struct {
	badge    notify.BadgeRenderer
	notifier notify.Notifier
	sounds   notify.SoundPlayer
	logger   *zap.Logger
	tick     time.Duration

	mu        sync.Mutex
	stop      chan struct{}
	remaining *int64
	jobcodeID int64
	rules     []model.AlertRule
}

// NewController constructs a Controller ticking once per second.
func NewController(badge notify.BadgeRenderer, notifier notify.Notifier, sounds notify.SoundPlayer, logger *zap.Logger) *Controller {
	return &Controller{badge: badge, notifier: notifier, sounds: sounds, logger: logger, tick: time.Second}
}

// Status reports the current countdown state for presentation layers.
type Status struct {
	Ticking   bool   `json:"ticking"`
	Remaining *int64 `json:"remaining_seconds"`
	JobcodeID int64  `json:"jobcode_id,omitempty"`
}

// Status returns a snapshot of the countdown state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Ticking: c.stop != nil, JobcodeID: c.jobcodeID}
	if c.remaining != nil {
		v := *c.remaining
		st.Remaining = &v
	}
	return st
}

// Start begins a countdown run for jobcodeID with initialSeconds remaining
// (nil = no budget). Any previous run is cancelled first. All three alert
// categories are evaluated at the initial value immediately, so a rule whose
// threshold equals the starting value still fires.
func (c *Controller) Start(jobcodeID int64, initialSeconds *int64, profile *model.UserProfile) {
	c.mu.Lock()
	c.stopLocked()
	c.jobcodeID = jobcodeID
	c.rules = nil
	if profile != nil {
		c.rules = append([]model.AlertRule(nil), profile.Preferences.Alerts...)
	}

	if initialSeconds == nil {
		c.remaining = nil
		c.renderBadgeLocked()
		c.mu.Unlock()
		return
	}
	v := *initialSeconds
	c.remaining = &v
	sound, notif := c.evaluateLocked()
	ticking := v > 0
	if ticking {
		stop := make(chan struct{})
		c.stop = stop
		go c.run(stop)
	}
	c.mu.Unlock()
	c.fire(sound, notif, v)
}

// Clear cancels any live timer and resets the badge to neutral.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.remaining = nil
	c.rules = nil
	c.jobcodeID = 0
	if err := c.badge.Clear(); err != nil {
		c.logger.Warn("badge clear failed", zap.Error(err))
	}
}

func (c *Controller) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Controller) run(stop chan struct{}) {
	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.mu.Lock()
			if c.stop != stop || c.remaining == nil {
				// Replaced or cleared while waiting for the lock.
				c.mu.Unlock()
				return
			}
			*c.remaining--
			v := *c.remaining
			sound, notif := c.evaluateLocked()
			done := v <= 0
			if done {
				c.stop = nil
			}
			c.mu.Unlock()
			c.fire(sound, notif, v)
			if done {
				return
			}
		}
	}
}

// renderBadgeLocked renders the badge for the current value.
func (c *Controller) renderBadgeLocked() {
	text := BadgeText(c.remaining)
	color := BadgeColor(c.remaining, c.rules, c.jobcodeID)
	if err := c.badge.SetBadge(text, color); err != nil {
		c.logger.Warn("badge render failed", zap.Error(err))
	}
}

// evaluateLocked renders the badge and returns the sound and notification
// rules due at the current value, if any.
func (c *Controller) evaluateLocked() (sound, notif *model.AlertRule) {
	c.renderBadgeLocked()
	if c.remaining == nil {
		return nil, nil
	}
	v := *c.remaining
	sound = firstExactMatch(c.rules, "sound", v, c.jobcodeID)
	notif = firstExactMatch(c.rules, "notification", v, c.jobcodeID)
	return sound, notif
}

// firstExactMatch returns the first rule of the category whose threshold
// equals value exactly and whose scope covers jobcodeID. Stable slice order
// is the tie-break; the scan stops at the first hit.
func firstExactMatch(rules []model.AlertRule, category string, value, jobcodeID int64) *model.AlertRule {
	for i := range rules {
		r := &rules[i]
		if r.Type.Category() != category {
			continue
		}
		if r.TimeInSeconds != value {
			continue
		}
		if !r.AppliesTo(jobcodeID) {
			continue
		}
		return r
	}
	return nil
}

// fire performs the sound/notification side effects outside the lock.
func (c *Controller) fire(sound, notif *model.AlertRule, value int64) {
	if sound != nil {
		ctx, cancel := context.WithTimeout(context.Background(), soundTimeout)
		var err error
		if sound.Type == model.AlertSoundCustom {
			err = c.sounds.PlayCustom(ctx, sound.Asset)
		} else {
			err = c.sounds.PlayPackaged(ctx, sound.Asset)
		}
		cancel()
		if err != nil {
			c.logger.Warn("alert sound failed", zap.String("rule", sound.ID), zap.Error(err))
		}
	}
	if notif != nil {
		if err := c.notifier.Notify("clockguard", NotificationMessage(value)); err != nil {
			c.logger.Warn("alert notification failed", zap.String("rule", notif.ID), zap.Error(err))
		}
	}
}
