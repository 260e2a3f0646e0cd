package status

import (
	"fmt"
	"time"
)

// Message ids of the localized status texts
const (
	MsgJustNow           = "time_ago.just_now"
	MsgMinutesAgo        = "time_ago.minutes"
	MsgHoursAgo          = "time_ago.hours"
	MsgDaysAgo           = "time_ago.days"
	MsgLastActivity      = "status.last_activity"
	MsgLastActivityHours = "status.last_activity_hours"
	MsgLastActivityDays  = "status.last_activity_days"
	MsgNoData            = "status.no_data"
)

// Texts resolves a message id with template data into display text
type Texts interface {
	Localize(id string, data map[string]any) string
}

// TimeAgo renders the age of ts at now: "Just now", "5m ago", "3h ago" or "2d ago"
func TimeAgo(now, ts time.Time, texts Texts) string {
	diff := now.Sub(ts)
	switch {
	case diff < time.Minute:
		return texts.Localize(MsgJustNow, nil)
	case diff < time.Hour:
		return texts.Localize(MsgMinutesAgo, map[string]any{"Count": int(diff / time.Minute)})
	case diff < 24*time.Hour:
		return texts.Localize(MsgHoursAgo, map[string]any{"Count": int(diff / time.Hour)})
	default:
		return texts.Localize(MsgDaysAgo, map[string]any{"Count": int(diff / (24 * time.Hour))})
	}
}

// Text renders the status line for s. The unit follows the elapsed time, not
// the status.
func Text(s Status, now time.Time, lastDetection *time.Time, texts Texts) string {
	if s == NoData || lastDetection == nil {
		return texts.Localize(MsgNoData, nil)
	}
	elapsed := now.Sub(*lastDetection)
	switch {
	case elapsed < time.Hour:
		return texts.Localize(MsgLastActivity, map[string]any{"Ago": TimeAgo(now, *lastDetection, texts)})
	case elapsed < 24*time.Hour:
		return texts.Localize(MsgLastActivityHours, map[string]any{"Hours": fmt.Sprintf("%.1f", elapsed.Hours())})
	default:
		return texts.Localize(MsgLastActivityDays, map[string]any{"Days": fmt.Sprintf("%.1f", elapsed.Hours()/24)})
	}
}
