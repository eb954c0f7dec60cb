// Package observability turns approval events into Prometheus series.
package observability

import (
	"context"

	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/pkg/metrics"
)

// RecordEvent counts the event and keeps the open-instance gauge current.
// It has the dispatcher handler signature and never fails.
func RecordEvent(_ context.Context, evt *event.Event) error {
	if evt == nil {
		return nil
	}
	metrics.ApprovalEventsTotal.WithLabelValues(evt.Type.String()).Inc()

	switch {
	case evt.Type == event.TypeApprovalOpened:
		metrics.ApprovalOpenInstances.Inc()
	case evt.Type.IsTerminal():
		metrics.ApprovalOpenInstances.Dec()
	}
	return nil
}
