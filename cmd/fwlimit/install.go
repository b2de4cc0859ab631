package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/fwlimit/pkg/config"
	daemonutils "github.com/charlie0129/fwlimit/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install fwlimit (system-wide)",
		GroupID: gInstallation,
		Long: `Install fwlimit daemon as a systemd service (system-wide).

This makes fwlimit run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the fwlimit daemon. As a result, you will need to run fwlimit client as root to change the charge limit. If you want to allow non-root users, i.e., you, to access the daemon, you can use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the fwlimit daemon.")
			} else {
				logrus.Info("only root user is allowed to access the fwlimit daemon.")
			}

			// The daemon reads the config on start, so save it first.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			var extraArgs []string
			if configPath != "/etc/fwlimit.json" {
				extraArgs = append(extraArgs, "--config", configPath)
			}
			if unixSocketPath != "/var/run/fwlimit.sock" {
				extraArgs = append(extraArgs, "--daemon-socket", unixSocketPath)
			}

			err = daemonutils.Install(extraArgs...)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("`systemd' will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``fwlimit install'' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access fwlimit daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall fwlimit (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall fwlimit daemon from systemd (system-wide).

This stops fwlimit and removes its systemd unit. The charge limit stays whatever it was last set to.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `fwlimit' again. If you want a complete uninstall, you can remove both config file and fwlimit itself manually.\n", configPath)

			return nil
		},
	}

	return cmd
}
