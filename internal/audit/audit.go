// Package audit is the default sink for system events: a structured log line
// and a per-type counter.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/metrics"
	"github.com/lzyats/im-dispatch/pkg/event"
)

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, evt event.SystemEvent) error {
	typ := evt.Type()
	metrics.Events.WithLabelValues(typ).Inc()
	s.log.Info("system event", zap.String("type", typ), zap.Any("event", map[string]any(evt)))
	return nil
}
