package admission

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RenderMetrics writes the concurrency_limit_queue_job_count gauge for
// each of the given team IDs in Prometheus text format, mirroring
// internal/queue.RenderMetrics's approach of rendering live
// Redis/Postgres state directly rather than funneling it through the
// counter-oriented internal/metrics package.
func (c *Controller) RenderMetrics(ctx context.Context, teamIDs []string) (string, error) {
	sorted := append([]string(nil), teamIDs...)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString("# HELP concurrency_limit_queue_job_count Jobs parked awaiting a free concurrency slot, by team.\n")
	sb.WriteString("# TYPE concurrency_limit_queue_job_count gauge\n")
	for _, teamID := range sorted {
		count, err := c.DeferredCount(ctx, teamID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "concurrency_limit_queue_job_count{team_id=%q} %d\n", teamID, count)
	}
	return sb.String(), nil
}
