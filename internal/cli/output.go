package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/specialistvlad/deploygrid/internal/scheduler"
)

func printReport(out io.Writer, report *scheduler.Report) {
	if len(report.Targets) == 0 {
		fmt.Fprintln(out, "Nothing to deploy.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTATE\tATTEMPTS\tDETAIL")
	for _, t := range report.Targets {
		state := t.State.String()
		if t.Replayed {
			state = "replayed"
		}
		detail := ""
		if t.Err != nil {
			detail = t.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.Identity, state, t.Attempts, detail)
	}
	_ = tw.Flush()

	counts := report.Counts()
	fmt.Fprintf(out, "\nrun %s: %d completed (%d executed), %d failed, %d blocked\n",
		report.RunID, counts[scheduler.Completed], report.Executed()-counts[scheduler.Failed],
		counts[scheduler.Failed], counts[scheduler.Blocked])
}

func printPlan(out io.Writer, planned []scheduler.PlannedTarget) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTARGET\tACTION")
	toRun := 0
	for i, p := range planned {
		action := "deploy"
		switch {
		case p.Replay:
			action = "up to date"
		case p.Stale:
			action = "redeploy (changed)"
			toRun++
		default:
			toRun++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, p.Identity, action)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\n%d of %d targets would be deployed.\n", toRun, len(planned))
}
