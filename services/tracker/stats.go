package tracker

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

const (
	DefaultReportDays = 7
	MaxReportDays     = 90
	dayLayout         = "2006-01-02"
)

// UserStats is the per-user rollup returned by the stats endpoint.
type UserStats struct {
	TotalFocusTime       int64            `json:"totalFocusTime"`
	TotalDistractionTime int64            `json:"totalDistractionTime"`
	AppUsage             map[string]int64 `json:"appUsage"`
}

// DailyStat summarizes the sessions started on one UTC day.
type DailyStat struct {
	Date            string `json:"date"`
	FocusTime       int64  `json:"focusTime"`
	DistractionTime int64  `json:"distractionTime"`
	SessionCount    int    `json:"sessionCount"`
	FocusPercentage int64  `json:"focusPercentage"`
}

// AppTotal is one application's time across a reporting window.
type AppTotal struct {
	AppName   string `json:"appName"`
	TotalTime int64  `json:"totalTime"`
}

// Reports derives read-only summaries from stored sessions.
type Reports struct {
	store Store
	clock quartz.Clock
}

func NewReports(store Store, clock quartz.Clock) *Reports {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Reports{store: store, clock: clock}
}

func (r *Reports) UserStats(ctx context.Context, userID uuid.UUID) (UserStats, error) {
	u, err := r.store.User(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	usage := u.AppUsage
	if usage == nil {
		usage = map[string]int64{}
	}
	return UserStats{
		TotalFocusTime:       u.TotalFocusTime,
		TotalDistractionTime: u.TotalDistractionTime,
		AppUsage:             usage,
	}, nil
}

// Daily returns one entry per UTC day over the last days days, oldest first,
// zero-filled for days without sessions.
func (r *Reports) Daily(ctx context.Context, userID uuid.UUID, days int) ([]DailyStat, error) {
	start, err := windowStart(r.clock.Now(), days)
	if err != nil {
		return nil, err
	}
	sessions, err := r.store.SessionsSince(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	return DailyAnalysis(sessions, start, days), nil
}

// DailyApps returns per-app totals over the last days days, largest first.
func (r *Reports) DailyApps(ctx context.Context, userID uuid.UUID, days int) ([]AppTotal, error) {
	start, err := windowStart(r.clock.Now(), days)
	if err != nil {
		return nil, err
	}
	sessions, err := r.store.SessionsSince(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	return AppTotals(sessions), nil
}

func windowStart(now time.Time, days int) (time.Time, error) {
	if days <= 0 || days > MaxReportDays {
		return time.Time{}, validationf("days must be between 1 and %d", MaxReportDays)
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1)), nil
}

// DailyAnalysis groups sessions by the UTC day of their start time.
func DailyAnalysis(sessions []Session, start time.Time, days int) []DailyStat {
	byDay := make(map[string]*DailyStat, days)
	for _, s := range sessions {
		key := s.StartTime.UTC().Format(dayLayout)
		st, ok := byDay[key]
		if !ok {
			st = &DailyStat{Date: key}
			byDay[key] = st
		}
		st.FocusTime += s.FocusTime
		st.DistractionTime += s.DistractionTime
		st.SessionCount++
	}

	out := make([]DailyStat, 0, days)
	for i := 0; i < days; i++ {
		key := start.AddDate(0, 0, i).Format(dayLayout)
		st, ok := byDay[key]
		if !ok {
			out = append(out, DailyStat{Date: key})
			continue
		}
		if total := st.FocusTime + st.DistractionTime; total > 0 {
			st.FocusPercentage = int64(math.Round(float64(st.FocusTime) / float64(total) * 100))
		}
		out = append(out, *st)
	}
	return out
}

// AppTotals sums app usage across sessions, sorted by total time descending.
func AppTotals(sessions []Session) []AppTotal {
	sums := map[string]int64{}
	for _, s := range sessions {
		for app, secs := range s.AppUsage {
			sums[app] += secs
		}
	}
	out := make([]AppTotal, 0, len(sums))
	for app, total := range sums {
		out = append(out, AppTotal{AppName: app, TotalTime: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalTime != out[j].TotalTime {
			return out[i].TotalTime > out[j].TotalTime
		}
		return out[i].AppName < out[j].AppName
	})
	return out
}
