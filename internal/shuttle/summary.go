package shuttle

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"
)

// renderSummary builds the end-of-run notification body (spec §4.7
// step 8, SPEC_FULL.md supplemented feature #4).
func (d *Driver) renderSummary(s Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s completed in %s\n", s.RunID, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "today: %d success / %d suspect / %d failed / %d pending\n",
		s.Aggregate.Successful.Count, s.Aggregate.Suspect.Count, s.Aggregate.Failed.Count, s.Aggregate.Pending.Count)
	fmt.Fprintf(&b, "today volume: %d bytes success / %d bytes suspect / %d bytes failed\n",
		s.Aggregate.Successful.VolumeBytes, s.Aggregate.Suspect.VolumeBytes, s.Aggregate.Failed.VolumeBytes)

	if s.Interrupted {
		b.WriteString("run was interrupted by a shutdown signal\n")
	}
	if s.RefusalSeen {
		b.WriteString("at least one admission refusal occurred this run\n")
	}

	if d.Config.ScheduleCronExpr != "" {
		if expr, err := cronexpr.Parse(d.Config.ScheduleCronExpr); err == nil {
			next := expr.Next(d.Clock.Now())
			fmt.Fprintf(&b, "next expected invocation: %s\n", next.Format(timeLayout))
		}
	}

	return b.String()
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
