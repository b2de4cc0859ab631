package config

import "time"

type Config interface {
	ToolPath() string
	Driver() string
	UseSudo() bool
	SudoPath() string
	Timeout() time.Duration
	RefreshBeforeToggle() bool
	AllowNonRootAccess() bool

	SetToolPath(string)
	SetDriver(string)
	SetUseSudo(bool)
	SetTimeout(time.Duration)
	SetRefreshBeforeToggle(bool)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
