// Command firecircle runs multi-model Fire Circle deliberations over suspect
// text and queries the stored verdicts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentinelworks/firecircle/pkg/config"
)

const version = "0.3.0"

type globalFlags struct {
	ConfigPath string
	Output     string // json, yaml
	Timeout    time.Duration
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	switch cmd := args[0]; cmd {
	case "evaluate":
		runEvaluate(ctx, global, cfg, args[1:])
	case "get":
		runGet(ctx, global, cfg, args[1:])
	case "dissents":
		runDissents(ctx, global, cfg, args[1:])
	case "patterns":
		runPatterns(ctx, global, cfg, args[1:])
	case "recent":
		runRecent(ctx, global, cfg, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println("firecircle " + version)
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ConfigPath: os.Getenv("FIRECIRCLE_CONFIG"),
		Output:     "json",
		Timeout:    10 * time.Minute,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--output":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --output")
			}
			flags.Output = args[i+1]
			i++
		case strings.HasPrefix(arg, "--output="):
			flags.Output = strings.TrimPrefix(arg, "--output=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func emit(global globalFlags, value any) {
	switch global.Output {
	case "yaml":
		out, err := yaml.Marshal(value)
		if err != nil {
			fatal(err)
		}
		os.Stdout.Write(out)
	default:
		out, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(out))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "firecircle:", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`firecircle - multi-model deliberation over suspect text

Usage:
  firecircle [global flags] <command> [command flags]

Commands:
  evaluate   Run a deliberation on a prompt and store the verdict
  get        Fetch a stored deliberation by fire circle id
  dissents   List preserved dissents above a falsehood delta
  patterns   List deliberations exhibiting a manipulation pattern
  recent     List recently stored deliberations
  version    Print the version
  help       Print this help

Global flags:
  --config PATH    Config file (YAML); FIRECIRCLE_* env vars override
  --output FORMAT  json (default) or yaml
  --timeout DUR    Overall command timeout (default 10m)
`)
}
