package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/fwlimit/pkg/events"
	"github.com/charlie0129/fwlimit/pkg/limit"
	"github.com/charlie0129/fwlimit/pkg/notify"
)

func NewWatchCommand() *cobra.Command {
	notifyUser := false

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Follow charge limit changes",
		GroupID: gAdvanced,
		Long: `Follow charge limit changes made through the daemon.

Each change and each failed operation is logged. With --notify every change also raises a desktop notification, so running 'fwlimit watch --notify' in your session covers changes made by root or by other users.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return err
			}

			var n notify.Notifier = notify.LogNotifier{}
			if notifyUser {
				var done func()
				n, done = notify.New()
				defer done()
			}

			for ev := range ch {
				if err := handleEvent(ev, notifyUser, n); err != nil {
					logrus.WithError(err).WithField("event", ev.Name).Warn("failed to handle event")
				}
			}

			if ctx.Err() == nil {
				return fmt.Errorf("daemon closed the event stream")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&notifyUser, "notify", false, "send a desktop notification for each change")

	return cmd
}

func handleEvent(ev events.Event, notifyUser bool, n notify.Notifier) error {
	switch ev.Name {
	case events.LimitChanged:
		p, err := events.DecodeAs[events.LimitChangedEvent](ev)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"from":    p.From,
			"to":      p.To,
			"percent": p.Percent,
		}).Info("charge limit changed")
		if !notifyUser {
			return nil
		}
		return notify.LimitSet(n, limit.FromPercent(p.Percent))
	case events.LimitError:
		p, err := events.DecodeAs[events.LimitErrorEvent](ev)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"op":   p.Op,
			"kind": p.Message,
		}).Error("charge limit operation failed")
	default:
		logrus.WithField("event", ev.Name).Debug("ignoring unknown event")
	}
	return nil
}
