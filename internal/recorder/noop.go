package recorder

import "TradeSentinel/internal/model"

// NoopRecorder is used when no store is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordTrade(_ *model.TradeRecord) error     { return nil }
func (n *NoopRecorder) RecordSkipped(_ *model.SkippedSignal) error { return nil }
func (n *NoopRecorder) Close() error                               { return nil }
