package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/events"
	"github.com/patchwell/overseer/pkg/models"
)

// CommandType classifies one outbound engine command.
type CommandType string

const (
	CommandSubmit CommandType = "submit"
	CommandCancel CommandType = "cancel"
)

// Command is the wire shape published to the engine commands topic. The
// engine proxy consumes these and drives the actual durable runtime.
type Command struct {
	Type       CommandType      `json:"type"`
	Handle     models.RunHandle `json:"handle"`
	Submission *Submission      `json:"submission,omitempty"`
}

// BusClient dispatches engine commands over the message bus. The engine
// workflow identifier is chosen at submit time so callbacks can be
// correlated before the engine assigns its run identifier.
type BusClient struct {
	publisher message.Publisher
	topic     string
}

// NewBusClient creates a bus-backed engine client.
func NewBusClient(publisher message.Publisher) *BusClient {
	return &BusClient{
		publisher: publisher,
		topic:     events.EngineCommandsTopic,
	}
}

func (c *BusClient) Submit(_ context.Context, submission Submission) (models.RunHandle, error) {
	handle := models.RunHandle{
		WorkflowID: fmt.Sprintf("run-%s-%s", submission.ExecutionID, uuid.New().String()[:8]),
	}
	submission.Handle = handle

	err := c.publish(Command{
		Type:       CommandSubmit,
		Handle:     handle,
		Submission: &submission,
	})
	if err != nil {
		return models.RunHandle{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	return handle, nil
}

func (c *BusClient) RequestCancel(_ context.Context, handle models.RunHandle) error {
	err := c.publish(Command{
		Type:   CommandCancel,
		Handle: handle,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	return nil
}

func (c *BusClient) publish(command Command) error {
	payload, err := json.Marshal(command)
	if err != nil {
		return err
	}

	msg := message.NewMessage("cmd-"+watermill.NewULID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, command.Handle.WorkflowID)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(command.Type))

	return c.publisher.Publish(c.topic, msg)
}
