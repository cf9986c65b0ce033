// Package notify shows desktop notifications for recording state changes.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/pipeline"
)

type sendFunc func(title, message string) error

type Notifier struct {
	title string
	send  sendFunc
	log   *slog.Logger
}

func New(cfg config.NotifyConfig, log *slog.Logger) *Notifier {
	beeep.AppName = cfg.AppName
	return &Notifier{
		title: cfg.AppName,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		log: log.With(slog.String("component", "notify")),
	}
}

func (n *Notifier) OnTransition(t pipeline.Transition) {
	var msg string
	switch {
	case t.To == pipeline.StateRunning:
		msg = "Recording started"
	case t.To == pipeline.StateStopped && t.Err != nil:
		msg = "Recording failed: " + t.Err.Error()
	case t.To == pipeline.StateStopped && t.From == pipeline.StateStopping:
		msg = "Recording stopped"
	default:
		return
	}
	n.notify(msg)
}

func (n *Notifier) OnEmission(pipeline.Emission) {}

func (n *Notifier) OnFailure(f pipeline.Failure) {
	if f.Stage == "emit" {
		n.notify("Could not insert text: " + f.Err.Error())
	}
}

func (n *Notifier) notify(msg string) {
	if err := n.send(n.title, msg); err != nil {
		n.log.Debug("notification failed", slog.String("error", err.Error()))
	}
}
