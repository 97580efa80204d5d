package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jgivc/recfetch/internal/common"
)

const (
	dateLayout       = "2006-01-02"
	defaultRangeDays = 30
)

var now = time.Now

type dateRange struct {
	from string
	to   string
}

func (d *dateRange) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.from, "from", "", "first day, YYYY-MM-DD (default: 30 days before --to)")
	cmd.Flags().StringVar(&d.to, "to", "", "last day, YYYY-MM-DD (default: today)")
}

// parse resolves the flags against today. Both ends are inclusive days in UTC.
func (d *dateRange) parse(today time.Time) (time.Time, time.Time, error) {
	to := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if d.to != "" {
		t, err := time.Parse(dateLayout, d.to)
		if err != nil {
			return time.Time{}, time.Time{}, common.Validation("invalid --to %q, want YYYY-MM-DD", d.to)
		}
		to = t
	}

	from := to.AddDate(0, 0, -defaultRangeDays)
	if d.from != "" {
		t, err := time.Parse(dateLayout, d.from)
		if err != nil {
			return time.Time{}, time.Time{}, common.Validation("invalid --from %q, want YYYY-MM-DD", d.from)
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, common.Validation("--from %s is after --to %s", from.Format(dateLayout), to.Format(dateLayout))
	}

	return from, to, nil
}
