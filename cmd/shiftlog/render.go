package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nevindra/shiftlog"
)

// renderReport writes a Report as plain text. Channels with no activity are
// never present in report.Channels (the aggregator omits them, spec §5's
// "channels with no activity are silently omitted"), so no filtering is
// needed here.
func renderReport(w io.Writer, report shiftlog.Report) {
	fmt.Fprintf(w, "Activity digest for %s\n", displayUser(report.RequestedUser))
	fmt.Fprintf(w, "%s — %s\n\n", formatTs(report.Range.Start), formatTs(report.Range.End))

	if len(report.Channels) == 0 {
		fmt.Fprintln(w, "No activity in this range.")
		return
	}

	for _, ch := range report.Channels {
		fmt.Fprintf(w, "## %s\n\n", channelHeading(ch))
		for _, g := range ch.Groups {
			renderGroup(w, g)
		}
	}

	fmt.Fprintf(w, "%d groups across %d messages in %d channels.\n", report.TotalGroups, report.TotalMessages, len(report.Channels))
}

func channelHeading(ch shiftlog.ChannelSummary) string {
	if ch.ChannelName != "" {
		return "#" + ch.ChannelName
	}
	return ch.ChannelID
}

func renderGroup(w io.Writer, g shiftlog.GroupSummary) {
	fmt.Fprintf(w, "- %s (%s — %s, %d messages)\n", g.NarrativeSummary, formatTs(g.StartTime), formatTs(g.EndTime), g.MessageCount)
	if len(g.Participants) > 0 {
		fmt.Fprintf(w, "  Participants: %s\n", strings.Join(g.Participants, ", "))
	}
	if len(g.KeyEvents) > 0 {
		fmt.Fprintf(w, "  Key events: %s\n", strings.Join(g.KeyEvents, "; "))
	}
	if g.Outcome != "" {
		fmt.Fprintf(w, "  Outcome: %s\n", g.Outcome)
	}
	if len(g.NextActions) > 0 {
		fmt.Fprintf(w, "  Next actions: %s\n", strings.Join(g.NextActions, "; "))
	}
	if len(g.References) > 0 {
		refs := make([]string, len(g.References))
		for i, ref := range g.References {
			refs[i] = ref.Value
		}
		fmt.Fprintf(w, "  References: %s\n", strings.Join(refs, ", "))
	}
	if g.SlackLink != "" {
		fmt.Fprintf(w, "  Link: %s\n", g.SlackLink)
	}
	fmt.Fprintf(w, "  Timesheet: %s\n\n", g.TimesheetEntry)
}

func displayUser(userID string) string {
	if userID == "" {
		return "(token owner)"
	}
	return userID
}

func formatTs(ts float64) string {
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04")
}
