package config

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/fwlimit/pkg/fwtool"
	"github.com/charlie0129/fwlimit/pkg/utils/ptr"
)

// MaxTimeout caps timeoutSeconds so a toggle that refreshes first (two
// tool runs) still finishes inside the client's request timeout.
const MaxTimeout = 12 * time.Second

var (
	defaultFileConfig = &RawFileConfig{
		ToolPath:            ptr.To(fwtool.DefaultToolPath),
		Driver:              ptr.To(fwtool.DefaultDriver),
		UseSudo:             ptr.To(true),
		SudoPath:            ptr.To(fwtool.DefaultSudoPath),
		TimeoutSeconds:      ptr.To(int(fwtool.DefaultTimeout / time.Second)),
		RefreshBeforeToggle: ptr.To(false),
		AllowNonRootAccess:  ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// RawFileConfig is the on-disk layout. Nil fields take defaults.
type RawFileConfig struct {
	ToolPath            *string `json:"toolPath,omitempty"`
	Driver              *string `json:"driver,omitempty"`
	UseSudo             *bool   `json:"useSudo,omitempty"`
	SudoPath            *string `json:"sudoPath,omitempty"`
	TimeoutSeconds      *int    `json:"timeoutSeconds,omitempty"`
	RefreshBeforeToggle *bool   `json:"refreshBeforeToggle,omitempty"`
	AllowNonRootAccess  *bool   `json:"allowNonRootAccess,omitempty"`
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	if err := f.Load(); err != nil {
		return nil, err
	}
	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}
	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// NewRawFileConfigFromConfig resolves defaults into a fully populated raw config.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		ToolPath:            ptr.To(c.ToolPath()),
		Driver:              ptr.To(c.Driver()),
		UseSudo:             ptr.To(c.UseSudo()),
		SudoPath:            ptr.To(c.SudoPath()),
		TimeoutSeconds:      ptr.To(int(c.Timeout() / time.Second)),
		RefreshBeforeToggle: ptr.To(c.RefreshBeforeToggle()),
		AllowNonRootAccess:  ptr.To(c.AllowNonRootAccess()),
	}, nil
}

// Path is the file the config is loaded from and saved to.
func (f *File) Path() string {
	return f.filepath
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) ToolPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().ToolPath, *defaultFileConfig.ToolPath)
}

func (f *File) Driver() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().Driver, *defaultFileConfig.Driver)
}

func (f *File) UseSudo() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().UseSudo, *defaultFileConfig.UseSudo)
}

func (f *File) SudoPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().SudoPath, *defaultFileConfig.SudoPath)
}

// Timeout is the per-invocation tool timeout. Non-positive values in the
// file fall back to the default.
func (f *File) Timeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	secs := ptr.Deref(f.raw().TimeoutSeconds, *defaultFileConfig.TimeoutSeconds)
	if secs <= 0 {
		secs = *defaultFileConfig.TimeoutSeconds
	}
	return min(time.Duration(secs)*time.Second, MaxTimeout)
}

func (f *File) RefreshBeforeToggle() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().RefreshBeforeToggle, *defaultFileConfig.RefreshBeforeToggle)
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetToolPath(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ToolPath = &s
}

func (f *File) SetDriver(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().Driver = &s
}

func (f *File) SetUseSudo(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().UseSudo = &b
}

func (f *File) SetTimeout(d time.Duration) {
	if d < time.Second {
		panic("timeout must be at least one second")
	}
	secs := int(min(d, MaxTimeout) / time.Second)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().TimeoutSeconds = &secs
}

func (f *File) SetRefreshBeforeToggle(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().RefreshBeforeToggle = &b
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().AllowNonRootAccess = &b
}

// ToolOptions converts the config into fwtool invocation options.
func (f *File) ToolOptions() fwtool.Options {
	return fwtool.Options{
		ToolPath: f.ToolPath(),
		Driver:   f.Driver(),
		UseSudo:  f.UseSudo(),
		SudoPath: f.SudoPath(),
		Timeout:  f.Timeout(),
	}
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file means defaults. Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if err := json.Unmarshal(b, &conf); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f.c); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"toolPath":            f.ToolPath(),
		"driver":              f.Driver(),
		"useSudo":             f.UseSudo(),
		"sudoPath":            f.SudoPath(),
		"timeout":             f.Timeout().String(),
		"refreshBeforeToggle": f.RefreshBeforeToggle(),
		"allowNonRootAccess":  f.AllowNonRootAccess(),
	}
}
