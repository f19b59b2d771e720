package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, control, unitPath, workdir, user, configFile string
	var on bool
	var days int
	flag.StringVar(&dbPath, "db", "data/greenhouse.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: set-control, read-alerts, prune-readings, install-service")
	flag.StringVar(&control, "control", "", "Control for set-control: irrigation, ventilation, lighting, heating")
	flag.BoolVar(&on, "on", false, "Desired control state for set-control")
	flag.IntVar(&days, "days", 30, "Readings older than this many days are pruned")
	flag.StringVar(&unitPath, "unit", "", "Systemd unit path for install-service")
	flag.StringVar(&workdir, "workdir", "", "Working directory for install-service")
	flag.StringVar(&user, "user", "", "Service user for install-service")
	flag.StringVar(&configFile, "config-file", "", "Config file passed to the service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of greenhouse-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/greenhouse.db')")
		fmt.Println("  -cmd string\tCommand to run: set-control, read-alerts, prune-readings, install-service")
		fmt.Println("  -control string\tControl for set-control")
		fmt.Println("  -on\tDesired control state for set-control")
		fmt.Println("  -days int\tRetention for prune-readings (default 30)")
		fmt.Println("  -unit, -workdir, -user, -config-file\tOptions for install-service")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "set-control":
		if control == "" {
			fmt.Println("Error: control is required")
			os.Exit(1)
		}
		err = db.SetControlCLI(dbPath, control, on)
	case "read-alerts":
		var n int64
		n, err = db.MarkAllAlertsReadCLI(dbPath)
		if err == nil {
			fmt.Printf("Marked %d alerts as read\n", n)
		}
	case "prune-readings":
		if days <= 0 {
			fmt.Println("Error: days must be positive")
			os.Exit(1)
		}
		var n int64
		n, err = db.PruneReadingsCLI(dbPath, time.Now().AddDate(0, 0, -days))
		if err == nil {
			fmt.Printf("Deleted %d readings\n", n)
		}
	case "install-service":
		var path string
		path, err = startup.InstallService(startup.ServiceOptions{
			UnitPath:   unitPath,
			User:       user,
			WorkingDir: workdir,
			ConfigFile: configFile,
			DBPath:     dbPath,
		})
		if err == nil {
			fmt.Printf("Wrote %s\n", path)
			err = startup.EnableService(path)
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
