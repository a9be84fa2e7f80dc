package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/webtosite/webtosite/pkg/eventbus"
	"github.com/webtosite/webtosite/pkg/progress"
)

// sseBuffer is the per-stream event backlog. A consumer further behind
// than this hits the sink's slow-consumer grace and loses events.
const sseBuffer = 64

// streamSSE runs fn in its own goroutine and relays its progress
// events to the client as data: frames, then exactly one terminal
// result or error frame. Events mirror onto the platform bus when one
// is attached. A client that goes away cancels the run at its next
// suspension point; completed side effects stay.
func streamSSE(c fiber.Ctx, logger *slog.Logger, bus eventbus.EventPublisher, fn func(ctx context.Context, sink progress.Sink) (any, error)) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.RequestCtx().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sink := progress.NewChannelSink(sseBuffer)

		var runSink progress.Sink = sink
		if bus != nil {
			runSink = progress.Tee(sink, progress.NewBusSink(bus, uuid.New().String(), logger))
		}

		type outcome struct {
			data any
			err  error
		}

		done := make(chan outcome, 1)

		go func() {
			data, err := fn(ctx, runSink)
			sink.Finish()
			done <- outcome{data: data, err: err}
		}()

		for event := range sink.Events() {
			if !writeFrame(w, logger, event) {
				sink.Close()
				cancel()

				break
			}
		}

		result := <-done
		if result.err != nil {
			writeFrame(w, logger, fiber.Map{"step": "error", "error": errorMessage(result.err)})

			return
		}

		writeFrame(w, logger, fiber.Map{"step": "result", "data": result.data})
	}))

	return nil
}

// writeFrame emits one data: frame and reports whether the client is
// still listening.
func writeFrame(w *bufio.Writer, logger *slog.Logger, payload any) bool {
	encoded, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Dropping unencodable stream frame", "error", err)

		return true
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
		return false
	}

	return w.Flush() == nil
}
