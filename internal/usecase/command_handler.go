package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"VPScalp/internal/domain/models"
	xhttp "VPScalp/pkg/http"
	pkgkafka "VPScalp/pkg/kafka"
	applogger "VPScalp/pkg/logger"
)

// CommandSink accepts operator commands.
type CommandSink interface {
	Submit(cmd models.Command) error
}

// CommandHandler feeds operator commands from a Kafka topic into the engine inbox.
type CommandHandler struct {
	topic string
	sink  CommandSink
	log   *applogger.Logger
}

var _ pkgkafka.MessageHandler = (*CommandHandler)(nil)

func NewCommandHandler(topic string, sink CommandSink, log *applogger.Logger) *CommandHandler {
	if log == nil {
		log = applogger.Nop()
	}
	return &CommandHandler{topic: topic, sink: sink, log: log.Component("commands")}
}

func (h *CommandHandler) Topic() string { return h.topic }

// Handle decodes and validates one command. Malformed commands are dropped without error
// so they are not retried.
func (h *CommandHandler) Handle(ctx context.Context, b []byte) error {
	var cmd models.Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		h.log.Warn("drop undecodable command", applogger.Error(err))
		return nil
	}
	if err := xhttp.ValidationErr(xhttp.ValidateStruct(ctx, &cmd)); err != nil {
		h.log.Warn("drop invalid command", applogger.String("type", string(cmd.Type)), applogger.Error(err))
		return nil
	}
	if err := h.sink.Submit(cmd); err != nil {
		return fmt.Errorf("submit %s: %w", cmd.Type, err)
	}
	h.log.Info("command queued",
		applogger.String("type", string(cmd.Type)),
		applogger.String("position_id", cmd.PositionID),
		applogger.String("symbol", cmd.Symbol),
	)
	return nil
}
