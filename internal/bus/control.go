package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Controller is the part of the pipeline reachable over the bus.
type Controller interface {
	Toggle(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() protocol.Status
}

// ControlResponder answers protocol.ControlRequest messages on
// protocol.SubjectControl with the resulting protocol.Status.
type ControlResponder struct {
	client  *Client
	ctrl    Controller
	timeout time.Duration
	sub     *nats.Subscription
}

func NewControlResponder(client *Client, ctrl Controller) *ControlResponder {
	return &ControlResponder{client: client, ctrl: ctrl, timeout: 15 * time.Second}
}

func (r *ControlResponder) Start() error {
	sub, err := r.client.Conn().Subscribe(protocol.SubjectControl, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	r.sub = sub
	return nil
}

func (r *ControlResponder) Close() {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
}

func (r *ControlResponder) handle(msg *nats.Msg) {
	var req protocol.ControlRequest
	var err error
	if jerr := json.Unmarshal(msg.Data, &req); jerr != nil {
		err = fmt.Errorf("decode control request: %w", jerr)
	} else {
		err = Apply(r.ctrl, req.Action, r.timeout)
	}

	status := r.ctrl.Status()
	if err != nil {
		status.Error = err.Error()
		r.client.Logger().Warn("control request failed", slog.String("action", req.Action), slog.String("error", err.Error()))
	}
	if msg.Reply == "" {
		return
	}
	data, merr := json.Marshal(status)
	if merr != nil {
		r.client.Logger().Warn("failed to marshal status", slog.String("error", merr.Error()))
		return
	}
	if perr := msg.Respond(data); perr != nil {
		r.client.Logger().Warn("failed to respond to control request", slog.String("error", perr.Error()))
	}
}

// Apply runs a control action against the controller.
func Apply(ctrl Controller, action string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	switch action {
	case protocol.ActionToggle:
		return ctrl.Toggle(ctx)
	case protocol.ActionStart:
		return ctrl.Start(ctx)
	case protocol.ActionStop:
		return ctrl.Stop(ctx)
	case protocol.ActionStatus, "":
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
