package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/fwlimit/pkg/config"
	"github.com/charlie0129/fwlimit/pkg/powerinfo"
	"github.com/charlie0129/fwlimit/pkg/types"
)

type statusData struct {
	limit       *types.LimitStatus
	batteryInfo *powerinfo.Battery
	config      *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData(refresh bool) (*statusData, error) {
	st, err := apiClient.GetLimit(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to get charge limit: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	// Battery info is best effort, a desktop without a battery still has a limit.
	bat, err := apiClient.GetBatteryInfo()
	if err != nil {
		logrus.WithError(err).Debug("failed to get battery info")
		bat = nil
	}

	return &statusData{
		limit:       st,
		batteryInfo: bat,
		config:      conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	refresh := false
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of fwlimit",
		Long:    `Get the charge limit, battery info, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData(refresh)
			if err != nil {
				return err
			}

			conf := config.NewFileFromConfig(data.config, "")

			if asJSON {
				return printStatusJSON(cmd, data, conf)
			}

			// Charge limit.
			cmd.Println(bold("Charge limit:"))
			cmd.Printf("  Preset: %s\n", stateText(data.limit.State))
			if data.limit.Known {
				cmd.Println("  Confirmed by framework_tool: " + bool2Text(true))
			} else {
				cmd.Println("  Confirmed by framework_tool: " + bool2Text(false))
				cmd.Println("    The daemon could not read the limit at startup. Run 'fwlimit get --refresh' to retry.")
			}

			cmd.Println()

			// Battery Info.
			if bat := data.batteryInfo; bat != nil {
				cmd.Println(bold("Battery status:"))
				cmd.Printf("  Current charge: %s\n", bold("%.0f%%", bat.Percent))

				state := bat.State
				switch bat.State {
				case "Charging":
					state = color.GreenString("charging")
				case "Discharging":
					state = color.RedString("discharging")
				}
				cmd.Printf("  State: %s\n", bold("%s", state))
				cmd.Printf("  Full capacity: %s\n", bold("%.1f Wh", bat.Full/1e3))

				watts := bat.ChargeRate / 1e3
				var rateStr string
				switch {
				case watts > 0:
					rateStr = color.New(color.Bold, color.FgGreen).Sprintf("%+.1f W", watts)
				case watts < 0:
					rateStr = color.New(color.Bold, color.FgRed).Sprintf("%+.1f W", watts)
				default:
					rateStr = bold("%+.1f W", watts)
				}
				cmd.Printf("  Charge rate: %s\n", rateStr)
				cmd.Printf("  Voltage: %s\n", bold("%.2f V", bat.Voltage))
				cmd.Printf("  Health: %s\n", bold("%.0f%%", bat.Health()))

				cmd.Println()
			}

			// Config.
			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Tool: %s\n", bold("%s (driver %s)", conf.ToolPath(), conf.Driver()))
			cmd.Println("  Use sudo: " + bool2Text(conf.UseSudo()))
			cmd.Printf("  Timeout: %s\n", bold("%s", conf.Timeout()))
			cmd.Println("  Refresh before toggle: " + bool2Text(conf.RefreshBeforeToggle()))
			cmd.Println("  Allow non-root access: " + bool2Text(conf.AllowNonRootAccess()))

			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "query framework_tool instead of using the cached state")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}

type statusJSON struct {
	Limit         statusLimitJSON    `json:"limit"`
	Battery       *statusBatteryJSON `json:"battery,omitempty"`
	Configuration statusConfigJSON   `json:"configuration"`
}

type statusLimitJSON struct {
	State   string `json:"state"`
	Percent int    `json:"percent"`
	Known   bool   `json:"known"`
}

type statusBatteryJSON struct {
	CurrentChargePercent float64 `json:"currentChargePercent"`
	State                string  `json:"state"`
	FullCapacityWh       float64 `json:"fullCapacityWh"`
	ChargeRateWatts      float64 `json:"chargeRateWatts"`
	VoltageVolts         float64 `json:"voltageVolts"`
	HealthPercent        float64 `json:"healthPercent"`
}

type statusConfigJSON struct {
	ToolPath            string `json:"toolPath"`
	Driver              string `json:"driver"`
	UseSudo             bool   `json:"useSudo"`
	TimeoutSeconds      int    `json:"timeoutSeconds"`
	RefreshBeforeToggle bool   `json:"refreshBeforeToggle"`
	AllowNonRootAccess  bool   `json:"allowNonRootAccess"`
}

func buildStatusJSON(data *statusData, cfg *config.File) statusJSON {
	out := statusJSON{
		Limit: statusLimitJSON{
			State:   data.limit.State.String(),
			Percent: data.limit.Percent,
			Known:   data.limit.Known,
		},
		Configuration: statusConfigJSON{
			ToolPath:            cfg.ToolPath(),
			Driver:              cfg.Driver(),
			UseSudo:             cfg.UseSudo(),
			TimeoutSeconds:      int(cfg.Timeout().Seconds()),
			RefreshBeforeToggle: cfg.RefreshBeforeToggle(),
			AllowNonRootAccess:  cfg.AllowNonRootAccess(),
		},
	}

	if bat := data.batteryInfo; bat != nil {
		out.Battery = &statusBatteryJSON{
			CurrentChargePercent: math.Round(bat.Percent*10) / 10,
			State:                bat.State,
			FullCapacityWh:       math.Round(bat.Full/1e3*10) / 10,
			ChargeRateWatts:      math.Round(bat.ChargeRate/1e3*10) / 10,
			VoltageVolts:         math.Round(bat.Voltage*100) / 100,
			HealthPercent:        math.Round(bat.Health()*10) / 10,
		}
	}

	return out
}

func printStatusJSON(cmd *cobra.Command, data *statusData, cfg *config.File) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(buildStatusJSON(data, cfg))
}
