package service

import (
	"sort"

	"coachbook/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ProjectUsage derives the ordered consumption history of pkg from its
// sessions. Cancelled sessions do not count. Entries are ordered by start,
// then id, so the same session set always yields the same figures.
func ProjectUsage(pkg *models.Package, sessions []*models.PackageSession) models.PackageUsage {
	live := make([]*models.PackageSession, 0, len(sessions))
	for _, s := range sessions {
		if s.Status != models.SessionCancelled {
			live = append(live, s)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if !live[i].Start.Equal(live[j].Start) {
			return live[i].Start.Before(live[j].Start)
		}
		return live[i].ID < live[j].ID
	})

	total := pkg.TotalHours()
	usage := models.PackageUsage{
		Package:        *pkg,
		TotalHours:     total,
		RemainingHours: pkg.RemainingHours(),
		Entries:        make([]models.UsageEntry, 0, len(live)),
	}

	var usedMinutes int64
	for i, s := range live {
		usedMinutes += s.DurationMinutes
		cumulative := models.HoursFromMinutes(usedMinutes)

		progress := decimal.Zero
		if !total.IsZero() {
			progress = cumulative.Mul(hundred).Div(total).Round(2)
		}

		usage.Entries = append(usage.Entries, models.UsageEntry{
			SessionID:            s.ID,
			ReservationID:        s.ReservationID,
			Start:                s.Start,
			End:                  s.End,
			Status:               s.Status,
			SequenceNumber:       i + 1,
			IsFirst:              i == 0,
			SessionDurationHours: models.HoursFromMinutes(s.DurationMinutes),
			CumulativeHoursUsed:  cumulative,
			ProgressPercent:      progress,
		})
	}
	return usage
}
