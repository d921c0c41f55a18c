package outbound

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/metrics"
)

// Submitter sends drafts. It never touches the message log: a sent message
// shows up only once it comes back through the inbound channel.
type Submitter struct {
	dispatcher Dispatcher
}

func NewSubmitter(d Dispatcher) *Submitter {
	return &Submitter{dispatcher: d}
}

// Submit dispatches the draft once. A blank draft fails with ErrEmptyMessage
// without any network traffic and is left as is. Otherwise the draft text is
// cleared whether or not the dispatch succeeds.
func (s *Submitter) Submit(ctx context.Context, d *Draft) error {
	if d == nil {
		return ErrEmptyMessage
	}
	req, ok := d.take()
	if !ok {
		return ErrEmptyMessage
	}
	return s.dispatch(ctx, req)
}

// SubmitText is Submit for callers without a Draft.
func (s *Submitter) SubmitText(ctx context.Context, side, text string) error {
	d := NewDraft(text)
	d.SetSide(side)
	return s.Submit(ctx, d)
}

func (s *Submitter) dispatch(ctx context.Context, req Request) error {
	mode := s.dispatcher.Mode()
	start := time.Now()
	err := s.dispatcher.Dispatch(ctx, req)
	metrics.Metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		var de *DispatchError
		if errors.As(err, &de) && de.Status != 0 {
			status = strconv.Itoa(de.Status)
		}
		metrics.Metrics.Dispatches.WithLabelValues(mode, status).Inc()
		log.Error().Err(err).Str("component", "outbound").Str("mode", mode).Msg("dispatch failed")
		return err
	}
	metrics.Metrics.Dispatches.WithLabelValues(mode, "ok").Inc()
	log.Debug().Str("component", "outbound").Str("mode", mode).Int("bytes", len(req.Message)).Msg("message dispatched")
	return nil
}
