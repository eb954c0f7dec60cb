package port

import (
	"context"

	"github.com/garyjia/procure-approval/internal/domain/event"
)

// ApprovalNotifier hands approval events to whatever delivers notifications.
// Delivery failures are the notifier's concern and never reach the caller.
type ApprovalNotifier interface {
	NotifyApprovalEvent(ctx context.Context, evt *event.Event)
}
