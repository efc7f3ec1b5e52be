package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
)

const keepAliveInterval = 15 * time.Second

// StreamExecutionEvents streams one execution's events over SSE. Missed
// events are not replayed; clients backfill from the history endpoint and
// then attach here.
func (h *APIHandlers) StreamExecutionEvents(c fiber.Ctx) error {
	executionID := c.Params("id")

	_, err := h.coordinator.Get(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.stream(c, executionID)
}

// StreamAllEvents streams every execution's events over SSE.
func (h *APIHandlers) StreamAllEvents(c fiber.Ctx) error {
	return h.stream(c, "")
}

func (h *APIHandlers) stream(c fiber.Ctx, executionID string) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	subscription := h.hub.Subscribe(executionID)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(subscription)

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, open := <-subscription.Events():
				if !open {
					return
				}

				payload, err := json.Marshal(event)
				if err != nil {
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)

				// Flush failure means the client went away.
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")

				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}
