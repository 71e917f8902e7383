package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders per-symbol collision rows as CSV.
func RenderCSV(rows []CollisionRow) string {
	var sb strings.Builder

	sb.WriteString("symbol,samples,total_raw,collisions,pooled_rate,last_rate,anomaly\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%.6f,%.6f,%s\n",
			r.Symbol,
			r.Samples,
			r.TotalRaw,
			r.Collisions,
			r.PooledRate,
			r.LastRate,
			r.Anomaly,
		))
	}

	return sb.String()
}
