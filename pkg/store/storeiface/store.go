package storeiface

import (
	"context"
	"time"
)

// RouteStore maps a connected user to the gateway node holding the socket.
type RouteStore interface {
	// SetRoute (re)registers uid on nodeAddr for ttl.
	SetRoute(ctx context.Context, uid, nodeAddr string, ttl time.Duration) error
	// GetRoute returns "" when uid has no live route.
	GetRoute(ctx context.Context, uid string) (string, error)
	// DelRoute removes the route only while it still points at nodeAddr.
	DelRoute(ctx context.Context, uid, nodeAddr string) error
}

// OfflineReader exposes what SaveOffline recorded for a user.
type OfflineReader interface {
	OfflineMsgIDs(ctx context.Context, uid string) ([]string, error)
	Unread(ctx context.Context, uid string) (map[string]int64, error)
}
