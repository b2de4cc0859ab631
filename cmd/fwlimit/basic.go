package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/fwlimit/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewGetCommand() *cobra.Command {
	refresh := false

	cmd := &cobra.Command{
		Use:     "get",
		Short:   "Print the current charge limit",
		GroupID: gBasic,
		Long: `Print the current charge limit.

By default the daemon answers from the state it last confirmed with framework_tool. Use --refresh to read the limit from the firmware again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetLimit(refresh)
			if err != nil {
				return fmt.Errorf("failed to get charge limit: %w", err)
			}

			if !st.Known {
				logrus.Warn("the daemon could not read the limit at startup, showing the default")
			}

			cmd.Println(stateText(st.State))

			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "query framework_tool instead of using the cached state")

	return cmd
}

func NewSetCommand() *cobra.Command {
	notifyUser := false

	cmd := &cobra.Command{
		Use:     "set <standard|limited|100|60>",
		Short:   "Set the charge limit preset",
		GroupID: gBasic,
		Long: `Set the charge limit preset.

"standard" (or 100) lets the battery charge fully. "limited" (or 60) stops charging at 60%.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseStateArg(args)
			if err != nil {
				return err
			}

			st, err := apiClient.SetLimit(target)
			if err != nil {
				return fmt.Errorf("failed to set charge limit: %w", err)
			}

			cmd.Println(st.Message)
			if notifyUser {
				notifyLimitSet(st.State)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&notifyUser, "notify", false, "also send a desktop notification")

	return cmd
}

func NewToggleCommand() *cobra.Command {
	notifyUser := false

	cmd := &cobra.Command{
		Use:     "toggle",
		Short:   "Switch between the standard and limited presets",
		GroupID: gBasic,
		Long: `Switch between the standard (100%) and limited (60%) presets.

On success the new limit is printed. With --notify a desktop notification is sent as well.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.Toggle()
			if err != nil {
				return fmt.Errorf("failed to toggle charge limit: %w", err)
			}

			cmd.Println(st.Message)
			if notifyUser {
				notifyLimitSet(st.State)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&notifyUser, "notify", false, "also send a desktop notification")

	return cmd
}
