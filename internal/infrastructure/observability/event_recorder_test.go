package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/pkg/metrics"
)

func TestRecordEvent(t *testing.T) {
	ctx := context.Background()
	openedBefore := testutil.ToFloat64(metrics.ApprovalEventsTotal.WithLabelValues("approval.opened"))
	gaugeBefore := testutil.ToFloat64(metrics.ApprovalOpenInstances)

	require.NoError(t, RecordEvent(ctx, event.NewEvent(event.TypeApprovalOpened, "i1", nil)))
	require.NoError(t, RecordEvent(ctx, event.NewEvent(event.TypeApprovalOpened, "i2", nil)))
	require.NoError(t, RecordEvent(ctx, event.NewEvent(event.TypeApprovalAdvanced, "i1", nil)))
	require.NoError(t, RecordEvent(ctx, event.NewEvent(event.TypeApprovalApproved, "i1", nil)))
	require.NoError(t, RecordEvent(ctx, nil))

	assert.Equal(t, openedBefore+2, testutil.ToFloat64(metrics.ApprovalEventsTotal.WithLabelValues("approval.opened")))
	assert.Equal(t, gaugeBefore+1, testutil.ToFloat64(metrics.ApprovalOpenInstances))
}
