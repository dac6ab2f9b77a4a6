package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/service"
	"inventory-decision-engine/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventSink publishes one keyed event; *Producer satisfies it
type EventSink interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher turns guard activity into domain events. It is the guard's
// GuardEvents, PostMortemScheduler and ActionExecutor.
type EventPublisher struct {
	guard   EventSink
	actions EventSink
	now     func() time.Time
}

// NewEventPublisher creates a publisher writing guard and post-mortem events
// to guard and approved actions to actions
func NewEventPublisher(guard, actions EventSink) *EventPublisher {
	return &EventPublisher{guard: guard, actions: actions, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

// FreezeOpened publishes FREEZE_OPENED
func (ep *EventPublisher) FreezeOpened(ctx context.Context, session *models.FreezeSession) error {
	event := &models.FreezeOpenedEvent{
		BaseEvent: ep.base(models.EventTypeFreezeOpened),
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Initiator: session.Initiator,
		Reason:    session.Reason,
		CCCDays:   session.CCCAtFreeze,
	}
	return ep.guard.PublishEvent(ctx, session.TenantID, event.EventType, event)
}

// ActionBlocked publishes ACTION_BLOCKED
func (ep *EventPublisher) ActionBlocked(ctx context.Context, action *models.BlockedAction) error {
	event := &models.ActionBlockedEvent{
		BaseEvent: ep.base(models.EventTypeActionBlocked),
		TenantID:  action.TenantID,
		SessionID: action.SessionID,
		SKU:       action.SKU,
		Action:    action.Action,
	}
	return ep.guard.PublishEvent(ctx, action.TenantID, event.EventType, event)
}

// SchedulePostMortem publishes FREEZE_CLOSED; the post-mortem worker picks it
// up and runs the analysis no earlier than runAfter
func (ep *EventPublisher) SchedulePostMortem(ctx context.Context, session *models.FreezeSession, runAfter time.Time) error {
	event := &models.FreezeClosedEvent{
		BaseEvent: ep.base(models.EventTypeFreezeClosed),
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Initiator: session.Initiator,
		RunAfter:  runAfter.UTC(),
	}
	return ep.guard.PublishEvent(ctx, session.TenantID, event.EventType, event)
}

// Execute hands an allowed decision to downstream pricing and purchasing
func (ep *EventPublisher) Execute(ctx context.Context, decision *service.ActionDecision) error {
	event := &models.ActionApprovedEvent{
		BaseEvent:   ep.base(models.EventTypeActionApproved),
		TenantID:    decision.TenantID,
		SKU:         decision.SKU,
		Action:      decision.Action,
		Quantity:    decision.Quantity,
		PriceFactor: decision.PriceFactor,
		RequestedBy: decision.RequestedBy,
	}
	return ep.actions.PublishEvent(ctx, decision.TenantID, event.EventType, event)
}

// PublishPostMortemCompleted publishes the report for the external notifier
func (ep *EventPublisher) PublishPostMortemCompleted(ctx context.Context, report *service.PostMortemReport) error {
	event := &models.PostMortemCompletedEvent{
		BaseEvent:       ep.base(models.EventTypePostMortemCompleted),
		TenantID:        report.TenantID,
		SessionID:       report.SessionID,
		OpportunityCost: report.OpportunityCost,
		Recommendation:  report.Recommendation,
		FreezeDays:      report.FreezeDays,
	}
	return ep.guard.PublishEvent(ctx, report.TenantID, event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onFreezeClosed func(context.Context, *models.FreezeClosedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnFreezeClosed registers a handler for FreezeClosed events
func (eh *EventHandler) OnFreezeClosed(handler func(context.Context, *models.FreezeClosedEvent) error) {
	eh.onFreezeClosed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeFreezeClosed:
		if eh.onFreezeClosed == nil {
			return nil
		}
		var event models.FreezeClosedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal FreezeClosed event: %w", err)
		}
		eh.logger.Info("Handling event",
			zap.String("event_type", baseEvent.EventType),
			zap.String("event_id", baseEvent.EventID),
			zap.String("session_id", event.SessionID))
		return eh.onFreezeClosed(ctx, &event)

	default:
		eh.logger.Debug("Ignoring event", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
