package recorder

import (
	"errors"

	"TradeSentinel/internal/model"
)

// Multi fans every record out to all sinks. A failing sink does not stop the
// others; their errors are joined.
type Multi []Recorder

func (m Multi) RecordTrade(rec *model.TradeRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordTrade(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordSkipped(s *model.SkippedSignal) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordSkipped(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
