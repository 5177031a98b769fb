// Package presence answers "is this user connected anywhere" for the
// dispatcher and pushes to whichever node holds the socket.
package presence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/breaker"
	"github.com/lzyats/im-dispatch/internal/comet"
	"github.com/lzyats/im-dispatch/internal/hub"
	"github.com/lzyats/im-dispatch/internal/metrics"
	"github.com/lzyats/im-dispatch/pkg/store/storeiface"
)

var ErrBreakerOpen = errors.New("presence: breaker open for node")

// Routed combines the local hub with the route registry. A user attached to
// this node is served from the hub; any other user is reached through the
// node its route points at.
type Routed struct {
	hub      *hub.Hub
	routes   storeiface.RouteStore
	sender   *comet.HTTPSender
	breaker  *breaker.Breaker
	selfAddr string
	log      *zap.Logger
}

// NewRouted accepts nil routes (hub only) and a nil breaker (no breaking).
func NewRouted(h *hub.Hub, routes storeiface.RouteStore, sender *comet.HTTPSender, br *breaker.Breaker, selfAddr string, log *zap.Logger) *Routed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Routed{hub: h, routes: routes, sender: sender, breaker: br, selfAddr: selfAddr, log: log}
}

// IsOnline misses the local hub first. A route naming this node is stale at
// that point and counts as offline, same as Push.
func (p *Routed) IsOnline(ctx context.Context, userID string) (bool, error) {
	if p.hub != nil {
		if _, ok := p.hub.Get(userID); ok {
			return true, nil
		}
	}
	if p.routes == nil {
		return false, nil
	}
	addr, err := p.routes.GetRoute(ctx, userID)
	if err != nil {
		return false, err
	}
	return addr != "" && addr != p.selfAddr, nil
}

func (p *Routed) Push(ctx context.Context, userID, channel string, payload any) error {
	packet, err := comet.EncodePacket(channel, payload)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if p.hub != nil {
		err := p.hub.Push(userID, packet)
		if err == nil || !errors.Is(err, hub.ErrOffline) {
			return err
		}
	}
	if p.routes == nil || p.sender == nil {
		return hub.ErrOffline
	}

	addr, err := p.routes.GetRoute(ctx, userID)
	if err != nil {
		return err
	}
	if addr == "" || addr == p.selfAddr {
		// The route vanished or is stale for this node.
		return hub.ErrOffline
	}
	if p.breaker != nil && !p.breaker.Allow(addr) {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, addr)
	}

	err = p.sender.SendToNode(ctx, addr, userID, channel, packet)
	if p.breaker != nil {
		switch {
		case err == nil, errors.Is(err, comet.ErrRemoteOffline):
			p.breaker.Success(addr)
		default:
			if p.breaker.Failure(addr) {
				metrics.BreakerOpen.Inc()
				p.log.Warn("breaker opened", zap.String("node", addr), zap.Error(err))
			}
		}
	}
	return err
}
