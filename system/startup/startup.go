package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// BootScript renders a script that configures every actuator pin as an output driven inactive.
func BootScript(cfg config.Config) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Incubator GPIO pin configuration at boot", "")

	write := func(label string, pin model.GPIOPin, active bool) {
		drive := "dl"
		if pin.ActiveHigh == active {
			drive = "dh"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive))
		lines = append(lines, "")
	}

	pins := cfg.ActuatorPins()
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write(name, pins[name], false)
	}

	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript(cfg config.Config) error {
	return os.WriteFile(cfg.BootScriptFilePath, []byte(BootScript(cfg)), 0755)
}

func InstallStartupService(cfg config.Config) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure incubator GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.BootScriptFilePath)

	return os.WriteFile(cfg.OSServicePath, []byte(unitContents), 0644)
}

func RunStartupScript(cfg config.Config) error {
	cmd := exec.Command("/bin/bash", cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

type ServiceOptions struct {
	User      string
	WorkDir   string
	ExecStart string
}

// InstallControllerService writes the main unit, ordered after the pin setup unit.
func InstallControllerService(cfg config.Config, opts ServiceOptions) error {
	gpioUnitName := filepath.Base(cfg.OSServicePath)

	if opts.ExecStart == "" {
		opts.ExecStart = fmt.Sprintf("%s -config-file %s",
			filepath.Join(opts.WorkDir, "incubator-controller"), cfg.ConfigFile)
	}

	unit := fmt.Sprintf(`[Unit]
Description=Incubator controller main service
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, opts.User, opts.WorkDir, opts.ExecStart)

	return os.WriteFile(cfg.MainServicePath, []byte(unit), 0644)
}
