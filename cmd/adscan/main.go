package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/mjwhitta/cli"

	"github.com/isometry/adscan/internal/config"
	"github.com/isometry/adscan/internal/logging"
)

var version = "dev"

// Exit codes
const (
	ExitSuccess = iota
	ExitError
	ExitMissingArg
)

var flags struct {
	config   string
	envFile  string
	server   string
	domain   string
	mode     string
	username string
	password string
	logLevel string

	base       string
	scope      string
	attributes string
	depth      int
	flat       bool
	version    bool
}

var command string
var cmdArgs []string

func init() {
	cli.Align = true
	cli.Authors = []string{"adscan authors"}
	cli.Banner = fmt.Sprintf("%s [OPTIONS] <command> [args...]", os.Args[0])
	cli.Info(
		"adscan - Active Directory enumeration over LDAP and ADWS",
		"",
		"Connects through Active Directory Web Services or LDAP, falling",
		"back to the other protocol when the first one fails.",
	)
	cli.ExitStatus(
		"0 - Success",
		"1 - Error",
		"2 - Missing command",
	)

	cli.Flag(&flags.config, "c", "config", "", "YAML configuration file")
	cli.Flag(&flags.envFile, "e", "env-file", "", "Dotenv file (default .env if present)")
	cli.Flag(&flags.server, "s", "server", "", "Domain controller host")
	cli.Flag(&flags.domain, "d", "domain", "", "Domain name")
	cli.Flag(&flags.mode, "m", "mode", "", "Backend mode: adws, ldap, adws-then-ldap, ldap-then-adws")
	cli.Flag(&flags.username, "u", "user", "", "Username")
	cli.Flag(&flags.password, "p", "pass", "", "Password")
	cli.Flag(&flags.logLevel, "l", "log-level", "", "Log level (trace, debug, info, warn, error)")
	cli.Flag(&flags.base, "b", "base", "", "Search base DN (default naming context)")
	cli.Flag(&flags.scope, "S", "scope", "subtree", "Search scope: base, onelevel, subtree")
	cli.Flag(&flags.attributes, "a", "attributes", "", "Comma-separated attributes to request")
	cli.Flag(&flags.depth, "D", "depth", -1, "OU split depth for plan (default from config)")
	cli.Flag(&flags.flat, "f", "flat", false, "Return the NetBIOS domain name from locate")
	cli.Flag(&flags.version, "V", "version", false, "Show version")

	cli.Section("Commands",
		"  root     Show the rootDSE summary of the domain\n",
		"  enum     Enumerate objects matching [filter]\n",
		"  domains  List the domain and the domains it trusts\n",
		"  plan     Split the tree into parallel work entries\n",
		"  locate   Locate a domain controller for <name>",
	)

	cli.Parse()

	if flags.version {
		fmt.Println(version)
		os.Exit(ExitSuccess)
	}
	if cli.NArg() == 0 {
		cli.Usage(ExitMissingArg)
	}

	command = cli.Arg(0)
	if cli.NArg() > 1 {
		cmdArgs = cli.Args()[1:]
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	ctx = logging.New(ctx, cfg.LogLevel)

	switch command {
	case "root":
		err = cmdRoot(ctx, cfg)
	case "enum", "enumerate":
		err = cmdEnum(ctx, cfg, cmdArgs)
	case "domains":
		err = cmdDomains(ctx, cfg)
	case "plan":
		err = cmdPlan(ctx, cfg)
	case "locate":
		err = cmdLocate(ctx, cfg, cmdArgs)
	case "help":
		cli.Usage(ExitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		cli.Usage(ExitError)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(ExitError)
	}
}

// loadConfig reads the configuration file and environment, then applies
// command line overrides. Validation is left to the commands that connect.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Read(flags.config)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag  string
		field *string
	}{
		{flags.server, &cfg.Server},
		{flags.domain, &cfg.Domain},
		{flags.mode, &cfg.Mode},
		{flags.username, &cfg.Username},
		{flags.password, &cfg.Password},
		{flags.logLevel, &cfg.LogLevel},
	}
	for _, o := range overrides {
		if o.flag != "" {
			*o.field = o.flag
		}
	}
	if flags.depth >= 0 {
		cfg.OUSplitDepth = flags.depth
	}
	return cfg, nil
}
