// Package model defines domain entities mirrored from the time-tracking
// service plus locally-owned preference state.
package model

import "time"

// AlertType enumerates alert rule kinds.
type AlertType string

const (
	AlertBadge        AlertType = "badge"
	AlertSoundDefault AlertType = "sound_default"
	AlertSoundCustom  AlertType = "sound_custom"
	AlertNotification AlertType = "notification"
)

// Category collapses the two sound subtypes into one conflict-check category.
func (t AlertType) Category() string {
	if t == AlertSoundDefault || t == AlertSoundCustom {
		return "sound"
	}
	return string(t)
}

// Session is the single process-wide login state. Created on a successful
// grant exchange, mutated on token refresh, cleared on logout.
type Session struct {
	AuthToken     string    `json:"auth_token"`
	RefreshToken  string    `json:"refresh_token"`
	AuthExpiresAt time.Time `json:"auth_expires_at"`
	CurrentUserID int64     `json:"current_user_id"`
}

// Timesheet is one logged time entry attached to a job code.
type Timesheet struct {
	ID           int64  `json:"id"`
	JobcodeID    int64  `json:"jobcode_id"`
	Date         string `json:"date"`     // YYYY-MM-DD as reported by the vendor
	Duration     int64  `json:"duration"` // seconds
	LastModified string `json:"last_modified"`
}

// Jobcode mirrors a vendor job code plus locally-owned budget state.
// ParentPathName and SecondsCompleted are derived and never supplied by the
// vendor; SecondsAssigned and IsFavourite exist only locally.
type Jobcode struct {
	ID               int64                `json:"id"`
	Name             string               `json:"name"`
	ParentID         int64                `json:"parent_id"`
	ParentPathName   string               `json:"parent_path_name"`
	HasChildren      bool                 `json:"has_children"`
	LastModified     string               `json:"last_modified"`
	Timesheets       map[int64]*Timesheet `json:"timesheets"`
	SecondsCompleted int64                `json:"seconds_completed"`
	SecondsAssigned  *int64               `json:"seconds_assigned"` // nil = no budget
	IsFavourite      bool                 `json:"is_favourite"`
}

// AlertRule is a user-configured trigger keyed by remaining seconds.
type AlertRule struct {
	ID            string    `json:"id"`
	Type          AlertType `json:"type"`
	TimeInSeconds int64     `json:"time_in_seconds"`
	Asset         string    `json:"asset"`       // badge color, packaged sound name, or custom sound id
	JobcodeIDs    []int64   `json:"jobcode_ids"` // empty = all job codes
	DisplayName   string    `json:"display_name,omitempty"`
}

// AppliesTo reports whether the rule is scoped to the given job code.
func (r *AlertRule) AppliesTo(jobcodeID int64) bool {
	if len(r.JobcodeIDs) == 0 {
		return true
	}
	for _, id := range r.JobcodeIDs {
		if id == jobcodeID {
			return true
		}
	}
	return false
}

// Preferences holds per-user locally-owned settings.
type Preferences struct {
	Alerts      []AlertRule `json:"alerts"`
	ThemeChoice string      `json:"theme_choice"`
}

// UserProfile is the stored mirror of one vendor user, keyed by ID in the
// profiles map. Jobcodes, Preferences and LastFetchedTimesheets are
// locally-owned and survive profile refreshes.
type UserProfile struct {
	ID                    int64              `json:"id"`
	FirstName             string             `json:"first_name"`
	LastName              string             `json:"last_name"`
	CompanyName           string             `json:"company_name"`
	LastModified          string             `json:"last_modified"`
	Jobcodes              map[int64]*Jobcode `json:"jobcodes"`
	Preferences           Preferences        `json:"preferences"`
	LastFetchedTimesheets time.Time          `json:"last_fetched_timesheets"`
}

// CustomSound is an uploaded alert sound stored as an opaque blob and
// referenced from sound_custom alert rules by ID.
type CustomSound struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// ActiveRecording is the snapshot of the latest totals poll. It is replaced
// wholesale on every successful poll and only compared by TimesheetID.
type ActiveRecording struct {
	TimesheetID  int64     `json:"timesheet_id"`
	JobcodeID    int64     `json:"jobcode_id"`
	OnTheClock   bool      `json:"on_the_clock"`
	ShiftSeconds int64     `json:"shift_seconds"`
	FetchedAt    time.Time `json:"fetched_at"`
}
