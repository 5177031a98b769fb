// Package getui adapts the GeTui provider to the offline notification port.
package getui

import (
	"context"
	"fmt"

	provider "github.com/lzyats/im-dispatch/pkg/provider/getui"
	"github.com/lzyats/im-dispatch/pkg/push"
)

type Vendor struct {
	p push.Provider
}

func New(cfg push.PushSettings) *Vendor {
	return &Vendor{p: provider.New(cfg)}
}

func NewWithProvider(p push.Provider) *Vendor {
	return &Vendor{p: p}
}

// PushNotify targets the device registered under uid.
func (v *Vendor) PushNotify(ctx context.Context, uid, title, body string, data map[string]string) error {
	if uid == "" {
		return fmt.Errorf("getui: %w: empty uid", push.ErrInvalidArgument)
	}
	msg := push.Message{
		Title:   title,
		Body:    body,
		Data:    data,
		Aliases: []string{uid},
	}
	_, err := v.p.Push(ctx, msg)
	return err
}
