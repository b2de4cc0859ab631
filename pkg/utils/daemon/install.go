package daemon

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed fwlimit.service
var unitTemplate string

var (
	unitDir      = "/etc/systemd/system"
	unitName     = "fwlimit.service"
	systemctlBin = "systemctl"
)

func unitPath() string {
	return filepath.Join(unitDir, unitName)
}

// RenderUnit returns the systemd unit that runs exePath as the daemon.
func RenderUnit(exePath string, extraArgs ...string) string {
	cmdline := strings.Join(append([]string{exePath, "daemon"}, extraArgs...), " ")
	return strings.ReplaceAll(unitTemplate, "/path/to/fwlimit daemon", cmdline)
}

func systemctl(args ...string) error {
	out, err := exec.Command(systemctlBin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Install writes the systemd unit for the current executable and enables it.
func Install(extraArgs ...string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	err = writeUnit(RenderUnit(exePath, extraArgs...))
	if err != nil {
		return err
	}

	logrus.Infof("starting fwlimit")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

func writeUnit(unit string) error {
	logrus.Infof("writing systemd unit to %s", unitDir)

	err := os.MkdirAll(unitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath()); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath())
	}

	err = os.WriteFile(unitPath(), []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath(), err)
	}

	return nil
}
