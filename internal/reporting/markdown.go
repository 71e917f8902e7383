package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Sentiment Pipeline Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Health: **%s**\n\n", r.Health))

	sb.WriteString("## Providers\n\n")
	if len(r.Breakers) == 0 {
		sb.WriteString("No providers registered.\n\n")
	} else {
		sb.WriteString("| Provider | State | Failures | Trips | Open Timeout | Transitions |\n")
		sb.WriteString("|----------|-------|----------|-------|--------------|-------------|\n")
		for _, b := range r.Breakers {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s | %d |\n",
				b.Provider, b.State, b.ConsecutiveFailures, b.Trips, b.CurrentTimeout, b.Transitions))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Collision Telemetry\n\n")
	if len(r.Symbols) == 0 {
		sb.WriteString("No merges recorded yet.\n\n")
	} else {
		sb.WriteString("| Symbol | Samples | Raw Items | Collisions | Pooled Rate | Last Rate | Anomaly |\n")
		sb.WriteString("|--------|---------|-----------|------------|-------------|-----------|---------|\n")
		for _, s := range r.Symbols {
			anomaly := s.Anomaly
			if anomaly == "" {
				anomaly = "-"
			}
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %.2f%% | %.2f%% | %s |\n",
				s.Symbol, s.Samples, s.TotalRaw, s.Collisions, s.PooledRate*100, s.LastRate*100, anomaly))
		}
		sb.WriteString("\n")
	}

	if c := r.Cycle; c != nil {
		sb.WriteString("## Last Cycle\n\n")
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Cycle ID | %s |\n", c.CycleID))
		sb.WriteString(fmt.Sprintf("| Outcome | %s |\n", c.Outcome))
		sb.WriteString(fmt.Sprintf("| Duration | %s |\n", c.Duration))
		sb.WriteString(fmt.Sprintf("| Symbols | %d |\n", c.Symbols))
		sb.WriteString(fmt.Sprintf("| Events Inserted | %d |\n", c.Inserted))
		sb.WriteString(fmt.Sprintf("| Updates Published | %d |\n", c.Published))
		if len(c.PartialSymbols) > 0 {
			sb.WriteString(fmt.Sprintf("| Partial Symbols | %s |\n", strings.Join(c.PartialSymbols, ", ")))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
