package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/metrics"
)

type NotifyOptions struct {
	QueueSize   int
	WorkerCount int
	OpTimeout   time.Duration
	Title       string
}

func (o NotifyOptions) withDefaults() NotifyOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 8
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 3 * time.Second
	}
	if o.Title == "" {
		o.Title = "New message"
	}
	return o
}

// NotifyingOffline wraps an OfflineStore and, after every successful save,
// queues a vendor notification for the receiver. Notifications are best
// effort: a full queue drops them and vendor errors are only logged.
type NotifyingOffline struct {
	next   OfflineStore
	vendor VendorPush
	opts   NotifyOptions
	log    *zap.Logger

	vq     chan vendorTask
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type vendorTask struct {
	uid  string
	body string
	data map[string]string
}

func NewNotifyingOffline(next OfflineStore, vendor VendorPush, opts NotifyOptions, log *zap.Logger) *NotifyingOffline {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	n := &NotifyingOffline{
		next:   next,
		vendor: vendor,
		opts:   opts,
		log:    log,
		vq:     make(chan vendorTask, opts.QueueSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < opts.WorkerCount; i++ {
		n.wg.Add(1)
		go n.vendorWorker()
	}
	return n
}

func (n *NotifyingOffline) SaveOffline(ctx context.Context, receiverID, conversationID, msgID, brief string) error {
	if err := n.next.SaveOffline(ctx, receiverID, conversationID, msgID, brief); err != nil {
		return err
	}
	t := vendorTask{
		uid:  receiverID,
		body: brief,
		data: map[string]string{"msgId": msgID, "sessionId": conversationID},
	}
	select {
	case n.vq <- t:
	default:
		metrics.VendorDrop.Inc()
		n.log.Debug("vendor queue full, notification dropped", zap.String("uid", receiverID), zap.String("msg_id", msgID))
	}
	return nil
}

// Close stops the workers. Queued notifications are discarded.
func (n *NotifyingOffline) Close() error {
	n.once.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	return nil
}

func (n *NotifyingOffline) vendorWorker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case t := <-n.vq:
			ctx, cancel := context.WithTimeout(context.Background(), n.opts.OpTimeout)
			if err := n.vendor.PushNotify(ctx, t.uid, n.opts.Title, t.body, t.data); err != nil {
				n.log.Warn("vendor notify failed", zap.String("uid", t.uid), zap.Error(err))
			}
			cancel()
		}
	}
}
