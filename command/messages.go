package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-taskhooks/core"
)

const (
	TypeProcessDelivery   = "taskhooks.command.delivery.process"
	TypeReprocessDelivery = "taskhooks.command.delivery.reprocess"
)

type ProcessDeliveryMessage struct {
	Request core.InboundRequest
}

func (ProcessDeliveryMessage) Type() string { return TypeProcessDelivery }

func (m ProcessDeliveryMessage) Validate() error {
	if len(m.Request.Body) == 0 {
		return fmt.Errorf("command: request body is required")
	}
	return nil
}

type ReprocessDeliveryMessage struct {
	DeliveryID string
}

func (ReprocessDeliveryMessage) Type() string { return TypeReprocessDelivery }

func (m ReprocessDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("command: delivery id is required")
	}
	return nil
}
