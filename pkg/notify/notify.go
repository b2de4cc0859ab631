// Package notify shows desktop notifications for charge limit changes.
package notify

import (
	"github.com/godbus/dbus/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/fwlimit/pkg/limit"
)

const (
	notificationsDest      = "org.freedesktop.Notifications"
	notificationsPath      = "/org/freedesktop/Notifications"
	notificationsNotify    = notificationsDest + ".Notify"
	notificationTimeoutMs  = int32(5000)
	limitSetSummary        = "Charging Limit Set"
	defaultApplicationName = "fwlimit"
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(summary, body, icon string) error
}

// DBusNotifier talks to the freedesktop notification server on the
// session bus.
type DBusNotifier struct {
	appName string
	conn    *dbus.Conn
}

var _ Notifier = &DBusNotifier{}

func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to session bus")
	}
	return &DBusNotifier{appName: appName, conn: conn}, nil
}

func (n *DBusNotifier) Notify(summary, body, icon string) error {
	obj := n.conn.Object(notificationsDest, notificationsPath)
	call := obj.Call(notificationsNotify, 0,
		n.appName,
		uint32(0), // replaces_id
		icon,
		summary,
		body,
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		notificationTimeoutMs,
	)
	if call.Err != nil {
		return pkgerrors.Wrap(call.Err, "failed to send notification")
	}
	return nil
}

func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// LogNotifier writes notifications to the log. Used when there is no
// session bus, e.g. over ssh.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n LogNotifier) Notify(summary, body, icon string) error {
	logger := n.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("icon", icon).Infof("%s: %s", summary, body)
	return nil
}

// New returns a DBusNotifier, or a LogNotifier if the session bus is
// unavailable. The returned func releases the bus connection.
func New() (Notifier, func()) {
	n, err := NewDBusNotifier(defaultApplicationName)
	if err != nil {
		logrus.WithError(err).Warn("desktop notifications unavailable, logging instead")
		return LogNotifier{}, func() {}
	}
	return n, func() {
		if err := n.Close(); err != nil {
			logrus.WithError(err).Debug("failed to close session bus")
		}
	}
}

// LimitSet tells the user that s is now enforced.
func LimitSet(n Notifier, s limit.State) error {
	return n.Notify(limitSetSummary, s.Confirmation(), s.IconName())
}
