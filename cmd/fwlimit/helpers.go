package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/fwlimit/pkg/limit"
	"github.com/charlie0129/fwlimit/pkg/notify"
	"github.com/charlie0129/fwlimit/pkg/version"
)

func getVersion() (clientVersion string, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return "", "", err
	}
	return version.Version, daemonVersion, nil
}

func parseStateArg(args []string) (limit.State, error) {
	if len(args) != 1 {
		return limit.Standard, fmt.Errorf("invalid number of arguments")
	}

	s, err := limit.ParseState(args[0])
	if err != nil {
		return limit.Standard, fmt.Errorf("invalid limit: %v", err)
	}

	return s, nil
}

// notifyLimitSet raises a desktop notification and only logs when that fails.
func notifyLimitSet(s limit.State) {
	n, done := notify.New()
	defer done()
	if err := notify.LimitSet(n, s); err != nil {
		logrus.WithError(err).Warn("failed to send notification")
	}
}

func stateText(s limit.State) string {
	if s == limit.Limited {
		return color.New(color.Bold, color.FgGreen).Sprintf("%s (%d%%)", s, s.Percent())
	}
	return color.New(color.Bold, color.FgYellow).Sprintf("%s (%d%%)", s, s.Percent())
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
