package progress

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/eventbus"
	"github.com/webtosite/webtosite/pkg/events"
)

// SlowSinkGrace bounds how long an emit may block on a sink before the
// event is dropped.
const SlowSinkGrace = 100 * time.Millisecond

// Interrupted reports cancellation at a suspension point, either from
// the caller's context or from the sink's listener going away.
func Interrupted(ctx context.Context, sink Sink) error {
	select {
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindCanceled, "run canceled", ctx.Err())
	case <-sink.Done():
		return apperr.New(apperr.KindCanceled, "progress listener went away")
	default:
		return nil
	}
}

// Sink receives events synchronously from the workflow goroutine. Emit
// must return within SlowSinkGrace. A closed Done channel tells the
// workflow its listener went away; the workflow stops at the next
// suspension point.
type Sink interface {
	Emit(event Event)
	Done() <-chan struct{}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}

func (discardSink) Done() <-chan struct{} { return nil }

// Discard drops every event and never signals cancellation.
var Discard Sink = discardSink{}

// ChannelSink bridges a single producer to one consumer over a
// buffered channel. The producer calls Emit and then Finish exactly
// once; the consumer ranges over Events and may call Close to abandon
// the stream early.
type ChannelSink struct {
	events     chan Event
	done       chan struct{}
	grace      time.Duration
	dropped    atomic.Int64
	closeOnce  sync.Once
	finishOnce sync.Once
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		grace:  SlowSinkGrace,
	}
}

// Emit delivers one event, dropping it when the consumer is slower
// than the configured grace.
func (s *ChannelSink) Emit(event Event) {
	select {
	case <-s.done:
		return
	default:
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case s.events <- event:
	case <-s.done:
	case <-timer.C:
		s.dropped.Add(1)
	}
}

// Finish closes the event stream. Producer side, after the last Emit.
func (s *ChannelSink) Finish() {
	s.finishOnce.Do(func() { close(s.events) })
}

// Close abandons the stream. Consumer side; pending and future events
// are discarded.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChannelSink) Done() <-chan struct{} {
	return s.done
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Dropped reports how many events were discarded for a slow consumer.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// BusSink mirrors progress events onto the platform event bus. Publish
// failures are logged and swallowed so a degraded bus never stalls a
// run.
type BusSink struct {
	bus    eventbus.EventPublisher
	runID  string
	logger *slog.Logger
}

func NewBusSink(bus eventbus.EventPublisher, runID string, logger *slog.Logger) *BusSink {
	return &BusSink{
		bus:    bus,
		runID:  runID,
		logger: logger,
	}
}

func (s *BusSink) Emit(event Event) {
	mirrored := events.RunProgress{
		BaseEvent: events.NewBaseEvent(events.RunProgressEvent, s.runID),
		Step:      string(event.Step),
		Message:   event.Message,
		Payload:   event.Payload,
	}

	if err := s.bus.Publish(context.Background(), s.runID, mirrored); err != nil {
		s.logger.Warn("failed to publish progress event", "run_id", s.runID, "step", event.Step, "error", err)
	}
}

func (s *BusSink) Done() <-chan struct{} { return nil }

type teeSink struct {
	primary   Sink
	secondary Sink
}

// Tee fans events out to two sinks. Cancellation follows the primary.
func Tee(primary, secondary Sink) Sink {
	return &teeSink{primary: primary, secondary: secondary}
}

func (s *teeSink) Emit(event Event) {
	s.primary.Emit(event)
	s.secondary.Emit(event)
}

func (s *teeSink) Done() <-chan struct{} {
	return s.primary.Done()
}
