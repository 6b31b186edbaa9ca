package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/benmeehan/display-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

var ErrInboxFull = errors.New("command inbox full")

// CommandSubscriber is the realtime channel side the processor listens on.
type CommandSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler)
	Unsubscribe(topic string)
}

// CommandResult is what a command handler hands back. Deferred results get
// no immediate ack; the handler queued a pending action that sends it later.
type CommandResult struct {
	Response string
	Deferred bool
}

// CommandHandler executes one command.
type CommandHandler func(ctx context.Context, cmd models.Command) (CommandResult, error)

// CommandProcessorConfig holds the processor settings.
type CommandProcessorConfig struct {
	Topic        string
	QOS          byte
	DeviceID     string
	RestartDelay time.Duration
	ActionDefer  time.Duration
}

// CommandProcessor receives device-control commands, dispatches them and
// makes sure every command is acknowledged exactly once. Reboot and factory
// reset are deferred until their ack can be delivered.
type CommandProcessor struct {
	cfg        CommandProcessorConfig
	subscriber CommandSubscriber
	acks       AckClient
	headroom   HeadroomChecker
	realtime   RealtimeController
	restarter  Restarter
	settings   SettingsStore
	clock      utils.Clock
	logger     zerolog.Logger

	handlers map[string]CommandHandler
	inbox    chan models.Command

	processed   *utils.BoundedQueue[string]
	ackQueue    *utils.BoundedQueue[models.CommandAck]
	pending     models.PendingAction
	lastWaitLog time.Time
}

// CommandProcessorDeps are the collaborators of a CommandProcessor.
// Subscriber may be nil when commands only arrive through Submit.
type CommandProcessorDeps struct {
	Subscriber CommandSubscriber
	Acks       AckClient
	Headroom   HeadroomChecker
	Realtime   RealtimeController
	Restarter  Restarter
	Settings   SettingsStore
	Clock      utils.Clock
}

// NewCommandProcessor creates a processor with an empty dispatch table.
func NewCommandProcessor(cfg CommandProcessorConfig, deps CommandProcessorDeps, logger zerolog.Logger) *CommandProcessor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = constants.DefaultRestartDelay
	}
	if cfg.ActionDefer <= 0 {
		cfg.ActionDefer = constants.DefaultActionRealtimeDefer
	}
	return &CommandProcessor{
		cfg:        cfg,
		subscriber: deps.Subscriber,
		acks:       deps.Acks,
		headroom:   deps.Headroom,
		realtime:   deps.Realtime,
		restarter:  deps.Restarter,
		settings:   deps.Settings,
		clock:      deps.Clock,
		logger:     logger,
		handlers:   map[string]CommandHandler{},
		inbox:      make(chan models.Command, constants.CommandInboxSize),
		processed:  utils.NewBoundedQueue[string](constants.ProcessedIDCapacity, utils.EvictOldest),
		ackQueue:   utils.NewBoundedQueue[models.CommandAck](constants.AckQueueCapacity, utils.DropNewest),
	}
}

func (cp *CommandProcessor) Name() string {
	return "commands"
}

func (cp *CommandProcessor) topic() string {
	return cp.cfg.Topic + "/" + cp.cfg.DeviceID
}

// Start subscribes to the device command topic.
func (cp *CommandProcessor) Start() error {
	if cp.subscriber == nil {
		return nil
	}
	topic := cp.topic()
	cp.logger.Info().Str("topic", topic).Msg("Subscribing to command topic")
	cp.subscriber.Subscribe(topic, cp.cfg.QOS, cp.onMessage)
	return nil
}

// Stop unsubscribes from the command topic.
func (cp *CommandProcessor) Stop() error {
	if cp.subscriber == nil {
		return nil
	}
	cp.subscriber.Unsubscribe(cp.topic())
	cp.logger.Info().Msg("Command processor stopped")
	return nil
}

// Register adds or replaces the handler for a command name.
func (cp *CommandProcessor) Register(name string, handler CommandHandler) {
	cp.handlers[name] = handler
}

func (cp *CommandProcessor) onMessage(topic string, payload []byte) {
	var cmd models.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cp.logger.Error().Err(err).Str("topic", topic).Msg("Malformed command payload")
		return
	}
	if err := cp.Submit(cmd); err != nil {
		cp.logger.Error().Err(err).Str("id", cmd.ID).Str("command", cmd.Command).Msg("Command dropped")
	}
}

// Submit hands a command to the run loop. It is safe to call from any
// goroutine and never blocks.
func (cp *CommandProcessor) Submit(cmd models.Command) error {
	select {
	case cp.inbox <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}

// Tick drains the inbox, then retries queued acks and the pending action.
func (cp *CommandProcessor) Tick(ctx context.Context, now time.Time) {
	for drained := false; !drained; {
		select {
		case cmd := <-cp.inbox:
			cp.HandleCommand(ctx, cmd)
		default:
			drained = true
		}
	}
	cp.ProcessPendingAcks(ctx)
	cp.ProcessPendingActions(ctx, now)
}

// WasRecentlyProcessed reports whether id is among the recently handled ids.
func (cp *CommandProcessor) WasRecentlyProcessed(id string) bool {
	if id == "" {
		return false
	}
	return cp.processed.Contains(func(v string) bool { return v == id })
}

// MarkProcessed records id, evicting the oldest entry when full.
func (cp *CommandProcessor) MarkProcessed(id string) {
	if id == "" || cp.WasRecentlyProcessed(id) {
		return
	}
	cp.processed.Push(id)
}

// HandleCommand dispatches cmd and sends or queues exactly one ack for it.
// Duplicates of recently processed ids are dropped without a second ack.
func (cp *CommandProcessor) HandleCommand(ctx context.Context, cmd models.Command) {
	if cp.WasRecentlyProcessed(cmd.ID) {
		cp.logger.Info().Str("id", cmd.ID).Str("command", cmd.Command).Msg("Duplicate command ignored")
		return
	}
	cp.logger.Info().Str("id", cmd.ID).Str("command", cmd.Command).Msg("Received command")

	handler, ok := cp.handlers[cmd.Command]
	if !ok {
		cp.SendOrQueueAck(ctx, models.CommandAck{
			ID:    cmd.ID,
			Error: "Unknown command: " + cmd.Command,
		})
		return
	}

	res, err := handler(ctx, cmd)
	if err != nil {
		cp.logger.Error().Err(err).Str("id", cmd.ID).Str("command", cmd.Command).Msg("Command failed")
		cp.SendOrQueueAck(ctx, models.CommandAck{ID: cmd.ID, Error: err.Error()})
		return
	}
	if res.Deferred {
		return
	}
	cp.SendOrQueueAck(ctx, models.CommandAck{ID: cmd.ID, Success: true, Response: res.Response})
}

// ackReady is the gate for any ack delivery: enough heap for a TLS request,
// no other API request in flight and no realtime handshake running.
func (cp *CommandProcessor) ackReady() bool {
	if cp.headroom != nil && !cp.headroom.HasSafeHeadroom(constants.AckMinFreeHeap, constants.AckMinHeapBlock) {
		return false
	}
	if cp.acks.InFlight() {
		return false
	}
	return cp.realtime == nil || !cp.realtime.IsConnecting()
}

// SendOrQueueAck sends ack now if possible and queues it otherwise. The id
// is marked processed in both cases.
func (cp *CommandProcessor) SendOrQueueAck(ctx context.Context, ack models.CommandAck) {
	if cp.ackQueue.Len() == 0 && cp.ackReady() {
		err := cp.acks.SendAck(ctx, ack)
		if err == nil {
			cp.MarkProcessed(ack.ID)
			return
		}
		cp.logger.Warn().Err(err).Str("id", ack.ID).Msg("Ack send failed, queueing")
	}

	if !cp.ackQueue.Push(ack) {
		cp.logger.Error().Str("id", ack.ID).Int("capacity", cp.ackQueue.Cap()).Msg("Ack queue full, ack dropped")
	}
	cp.MarkProcessed(ack.ID)
}

// ProcessPendingAcks sends queued acks oldest first and stops at the first
// failure so acks are never reordered.
func (cp *CommandProcessor) ProcessPendingAcks(ctx context.Context) {
	for cp.ackQueue.Len() > 0 {
		if !cp.ackReady() {
			return
		}
		ack, _ := cp.ackQueue.Peek()
		if err := cp.acks.SendAck(ctx, ack); err != nil {
			cp.logger.Warn().Err(err).Str("id", ack.ID).Int("queued", cp.ackQueue.Len()).Msg("Queued ack send failed")
			return
		}
		cp.ackQueue.Pop()
		cp.logger.Info().Str("id", ack.ID).Msg("Queued ack sent")
	}
}

// PendingAcks returns the queued acks, oldest first.
func (cp *CommandProcessor) PendingAcks() []models.CommandAck {
	return cp.ackQueue.Items()
}

// PendingAction returns the outstanding deferred action.
func (cp *CommandProcessor) PendingAction() models.PendingAction {
	return cp.pending
}

// QueuePendingAction defers a reboot or factory reset until its ack is
// delivered. Only one action may be outstanding; re-queuing the same id is a
// no-op and a different id is rejected.
func (cp *CommandProcessor) QueuePendingAction(kind models.ActionKind, id string) error {
	if id == "" {
		cp.logger.Warn().Str("action", string(kind)).Msg("Pending action without id ignored")
		return nil
	}
	if cp.pending.Active() {
		if cp.pending.ID == id {
			return nil
		}
		cp.logger.Warn().
			Str("action", string(kind)).
			Str("id", id).
			Str("pending_id", cp.pending.ID).
			Msg("Another action is pending, rejecting")
		return fmt.Errorf("action %s already pending", cp.pending.ID)
	}

	cp.pending = models.PendingAction{Kind: kind, ID: id, EnqueuedAt: cp.clock.Now()}
	cp.MarkProcessed(id)
	if cp.holdsRealtime() {
		cp.realtime.Pause(cp.cfg.ActionDefer)
	}
	cp.logger.Info().Str("action", string(kind)).Str("id", id).Msg("Action queued until ack is delivered")
	return nil
}

// holdsRealtime reports whether a pending action keeps the realtime channel
// down. It cannot when the action's own ack is published over that channel.
func (cp *CommandProcessor) holdsRealtime() bool {
	return cp.realtime != nil && !cp.acks.UsesRealtime()
}

// ProcessPendingActions delivers the ack of the pending action once the gate
// opens, then performs it. The action stays pending until its ack went out.
func (cp *CommandProcessor) ProcessPendingActions(ctx context.Context, now time.Time) {
	if !cp.pending.Active() {
		return
	}
	if cp.holdsRealtime() {
		cp.realtime.Defer(cp.cfg.ActionDefer)
	}

	// Older queued acks go out first; the restart would drop them.
	if cp.ackQueue.Len() > 0 || !cp.ackReady() {
		if now.Sub(cp.lastWaitLog) >= constants.PendingActionLogInterval {
			cp.lastWaitLog = now
			cp.logger.Info().
				Str("action", string(cp.pending.Kind)).
				Str("id", cp.pending.ID).
				Msg("Waiting for safe conditions to acknowledge action")
		}
		return
	}

	action := cp.pending
	ack := models.CommandAck{ID: action.ID, Success: true, Response: string(action.Kind)}
	if err := cp.acks.SendAck(ctx, ack); err != nil {
		cp.logger.Warn().Err(err).Str("id", action.ID).Msg("Action ack failed, will retry")
		return
	}
	cp.MarkProcessed(action.ID)
	if action.Kind == models.ActionFactoryReset && cp.settings != nil {
		if err := cp.settings.FactoryReset(); err != nil {
			cp.logger.Error().Err(err).Msg("Factory reset failed")
		}
	}

	cp.pending = models.PendingAction{}
	cp.clock.Sleep(cp.cfg.RestartDelay)
	cp.restarter.Restart(string(action.Kind) + " command " + action.ID)
}
