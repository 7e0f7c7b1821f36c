package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/incubator-controller/db"
	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, actuatorID, state, mode, configFile, user, workdir string
	flag.StringVar(&dbPath, "db", "data/incubator.db", "Path to the SQLite state database")
	flag.StringVar(&command, "cmd", "", "Command to run: show-state, set-mode, set-actuator, write-boot-script, install-service")
	flag.StringVar(&actuatorID, "actuator", "", "Actuator id for set-actuator")
	flag.StringVar(&state, "state", "", "on or off for set-actuator")
	flag.StringVar(&mode, "mode", "", "auto or manual for set-mode")
	flag.StringVar(&configFile, "config-file", "config.json", "Controller config file for boot script and service commands")
	flag.StringVar(&user, "user", "pi", "User the controller service runs as")
	flag.StringVar(&workdir, "workdir", "/opt/incubator-controller", "Working directory of the controller service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of incubator-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	var err error
	switch command {
	case "show-state":
		err = db.ShowStateCLI(dbPath, os.Stdout)
	case "set-mode":
		err = db.SetSystemModeCLI(dbPath, mode)
	case "set-actuator":
		if actuatorID == "" {
			fmt.Println("Error: actuator id is required")
			os.Exit(1)
		}
		err = db.SetActuatorStateCLI(dbPath, actuatorID, state)
	case "write-boot-script", "install-service":
		var cfg config.Config
		cfg, err = loadConfig(configFile)
		if err != nil {
			break
		}
		if command == "write-boot-script" {
			err = startup.WriteStartupScript(cfg)
			break
		}
		if err = startup.InstallStartupService(cfg); err == nil {
			err = startup.InstallControllerService(cfg, startup.ServiceOptions{User: user, WorkDir: workdir})
		}
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.ConfigFile = path
	return cfg, cfg.Validate()
}
