package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-taskhooks/core"
	"github.com/goliatone/go-taskhooks/ingest"
)

// IngestService is the mutating surface the command layer fronts.
type IngestService interface {
	Process(ctx context.Context, req core.InboundRequest) (ingest.Result, error)
	Reprocess(ctx context.Context, deliveryID string) (ingest.Result, error)
}

type ProcessDeliveryCommand struct {
	service IngestService
}

func NewProcessDeliveryCommand(service IngestService) *ProcessDeliveryCommand {
	return &ProcessDeliveryCommand{service: service}
}

func (c *ProcessDeliveryCommand) Execute(ctx context.Context, msg ProcessDeliveryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	out, err := c.service.Process(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReprocessDeliveryCommand struct {
	service IngestService
}

func NewReprocessDeliveryCommand(service IngestService) *ReprocessDeliveryCommand {
	return &ReprocessDeliveryCommand{service: service}
}

func (c *ReprocessDeliveryCommand) Execute(ctx context.Context, msg ReprocessDeliveryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	out, err := c.service.Reprocess(ctx, msg.DeliveryID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
