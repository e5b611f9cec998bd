package backoffice

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/ports"
)

const commandPopTimeout = 5 * time.Second

// Command is one outbound request pushed by the back-office onto the command
// queue.
type Command struct {
	RequestID       string      `json:"request_id,omitempty"`
	ChargerID       string      `json:"charger_id"`
	Command         string      `json:"command"`
	Payload         interface{} `json:"payload,omitempty"`
	RequireResponse bool        `json:"require_response,omitempty"`
}

// allowedCommands is the closed set of actions the back-office may submit.
// Anything else is refused without touching the retry engine.
var allowedCommands = map[string]bool{
	"RemoteStartTransaction": true,
	"RemoteStopTransaction":  true,
	"UnlockConnector":        true,
	"Reset":                  true,
	"ChangeConfiguration":    true,
}

// CommandResult is the immediate submission outcome pushed to the per-request
// response list. The CP's eventual reply arrives separately as a
// remote_command_result event.
type CommandResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

// CommandReader pops back-office commands from the redis list and submits
// them through the retry engine.
type CommandReader struct {
	cache  ports.Cache
	sender ports.CommandSender
	prefix string
	log    *zap.Logger
}

func NewCommandReader(cache ports.Cache, sender ports.CommandSender, prefix string, log *zap.Logger) *CommandReader {
	return &CommandReader{
		cache:  cache,
		sender: sender,
		prefix: prefix,
		log:    log,
	}
}

// Run consumes the command queue until ctx is done.
func (r *CommandReader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := r.cache.PopList(ctx, r.prefix+":commands", commandPopTimeout)
		if err != nil {
			r.log.Warn("command queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if raw == "" {
			continue
		}

		var cmd Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			r.log.Warn("dropping unparseable command", zap.Error(err))
			continue
		}
		r.handle(ctx, cmd)
	}
}

func (r *CommandReader) handle(ctx context.Context, cmd Command) {
	var result CommandResult

	if !allowedCommands[cmd.Command] {
		result = CommandResult{Status: "error", Message: "unsupported command: " + cmd.Command}
		r.log.Warn("back-office command refused",
			zap.String("request_id", cmd.RequestID),
			zap.String("charger_id", cmd.ChargerID),
			zap.String("command", cmd.Command),
		)
		r.respond(ctx, cmd, result)
		return
	}

	messageID, queued, err := r.sender.Send(ctx, cmd.ChargerID, cmd.Command, cmd.Payload)
	if err != nil {
		result = CommandResult{Status: "error", Message: err.Error()}
		r.log.Warn("back-office command rejected",
			zap.String("request_id", cmd.RequestID),
			zap.String("charger_id", cmd.ChargerID),
			zap.String("command", cmd.Command),
			zap.Error(err),
		)
	} else {
		result = CommandResult{
			Status:    "accepted",
			Message:   "command submitted",
			MessageID: messageID,
			Queued:    queued,
		}
		r.log.Info("back-office command submitted",
			zap.String("request_id", cmd.RequestID),
			zap.String("charger_id", cmd.ChargerID),
			zap.String("command", cmd.Command),
			zap.Bool("queued", queued),
		)
	}
	r.respond(ctx, cmd, result)
}

// respond pushes the result to the per-request response list, but only when
// the back-office asked for one.
func (r *CommandReader) respond(ctx context.Context, cmd Command, result CommandResult) {
	if !cmd.RequireResponse || cmd.RequestID == "" {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := r.prefix + ":responses:" + cmd.RequestID
	if err := r.cache.PushList(ctx, key, string(data)); err != nil {
		r.log.Warn("failed to push command result", zap.Error(err))
	}
}
