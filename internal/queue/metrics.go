package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RenderMetrics formats the nuq_queue_scrape_job_count gauge in
// Prometheus text exposition format, one line per status, for the
// admin metrics endpoint.
func (q *Queue) RenderMetrics(ctx context.Context) (string, error) {
	counts, err := q.Metrics(ctx)
	if err != nil {
		return "", err
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	var b strings.Builder
	b.WriteString("# HELP nuq_queue_scrape_job_count Current number of queue_scrape rows by status\n")
	b.WriteString("# TYPE nuq_queue_scrape_job_count gauge\n")
	for _, s := range statuses {
		fmt.Fprintf(&b, "nuq_queue_scrape_job_count{status=%q} %d\n", s, counts[Status(s)])
	}
	return b.String(), nil
}
