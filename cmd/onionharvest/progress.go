package main

import (
	"fmt"
	"io"
	"time"

	"github.com/nao1215/onionharvest/internal/pipeline"
)

// renderEvents prints one line per progress event until events is closed.
func renderEvents(w io.Writer, events <-chan pipeline.Event) {
	for ev := range events {
		if line := formatEvent(ev); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func formatEvent(ev pipeline.Event) string {
	switch ev.Kind {
	case pipeline.EventPageAccepted:
		if ev.Page == nil {
			return fmt.Sprintf("[page] %s (depth %d)", ev.URL, ev.Depth)
		}
		return fmt.Sprintf("[page] %s (depth %d, %s, %d IOCs)",
			ev.URL, ev.Depth, ev.Page.RiskLabel(), ev.Page.Intel.IOCs.Total())
	case pipeline.EventPageRejected:
		return fmt.Sprintf("[skip] %s", ev.URL)
	case pipeline.EventFetchFailed:
		return fmt.Sprintf("[fail] %s: %v", ev.URL, ev.Err)
	case pipeline.EventSiteDone:
		if ev.Stats == nil {
			return fmt.Sprintf("[site] %s done", ev.Site)
		}
		st := ev.Stats
		line := fmt.Sprintf("[site] %s %s: %d accepted, %d duplicates, %d failed in %s",
			ev.Site, st.Status, st.Accepted, st.Duplicates, st.Failed, st.Duration.Round(time.Millisecond))
		if st.Error != "" {
			line += " (" + st.Error + ")"
		}
		return line
	case pipeline.EventLog:
		if ev.Err != nil {
			return fmt.Sprintf("[info] %s: %v", ev.Message, ev.Err)
		}
		return "[info] " + ev.Message
	default:
		// EventRunDone is covered by the final summary.
		return ""
	}
}
