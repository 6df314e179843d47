package config

import (
	"flag"
	"fmt"
	"io"
)

const defaultConfigPath = "config.yaml"

// Flags command line options.
type Flags struct {
	ConfigPath string
	// Role which workers this process runs: all, market, user or ingress.
	Role string
	// User the user served by a user role process.
	User string
	// Debug enables debug logs and the periodic state printer.
	Debug bool
	// Setup runs the interactive configuration wizard instead of the workers.
	Setup bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags

	fs := flag.NewFlagSet("sigtrader", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&f.ConfigPath, "config", defaultConfigPath, "path to yaml config")
	fs.StringVar(&f.Role, "role", RoleAll, "workers to run: all, market, user or ingress")
	fs.StringVar(&f.User, "user", "", "user served by -role=user")
	fs.BoolVar(&f.Debug, "debug", false, "debug logs and periodic state printing")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive setup wizard")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if fs.NArg() > 0 {
		return Flags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	switch f.Role {
	case RoleAll, RoleMarket, RoleUser, RoleIngress:
	default:
		return Flags{}, fmt.Errorf("invalid --role provided, --role=%s", f.Role)
	}
	if f.Role == RoleUser && f.User == "" {
		return Flags{}, fmt.Errorf("--user is required with --role=%s", RoleUser)
	}

	return f, nil
}
