package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/fwlimit/pkg/daemon"
	"github.com/charlie0129/fwlimit/pkg/version"
)

// NewDaemonCommand runs the daemon. systemd starts it through the unit
// written by 'fwlimit install'.
func NewDaemonCommand() *cobra.Command {
	allowNonRoot := false

	cmd := &cobra.Command{
		Use:     "daemon",
		Hidden:  true,
		Short:   "Run fwlimit daemon in the foreground",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
				"config":  configPath,
				"socket":  unixSocketPath,
			}).Info("fwlimit daemon starting")

			if os.Geteuid() != 0 {
				logrus.Warn("not running as root, framework_tool will need passwordless sudo")
			}

			return daemon.Run(configPath, unixSocketPath, allowNonRoot)
		},
	}

	cmd.Flags().BoolVar(&allowNonRoot, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon, regardless of the config file.")

	return cmd
}
