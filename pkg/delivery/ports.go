//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

package delivery

import (
	"context"

	"github.com/lzyats/im-dispatch/pkg/event"
)

// Presence answers whether a user holds a live connection somewhere in the
// fleet and pushes to it. Implementations must be safe for concurrent use.
type Presence interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	Push(ctx context.Context, userID, channel string, payload any) error
}

// OfflineStore persists messages for users without a live connection and keeps
// their unread counters. SaveOffline must be idempotent on (receiverID, msgID):
// redelivery calls it again with the same arguments.
type OfflineStore interface {
	SaveOffline(ctx context.Context, receiverID, conversationID, msgID, brief string) error
}

// AuditSink records system events.
type AuditSink interface {
	Record(ctx context.Context, evt event.SystemEvent) error
}

// VendorPush sends an OS-level notification (GeTui/APNs/FCM).
type VendorPush interface {
	PushNotify(ctx context.Context, uid, title, body string, data map[string]string) error
}
