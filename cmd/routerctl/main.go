package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"routerctl/internal/config"
)

// Version of the routerctl binary.
const Version = "0.4.0"

// Keys of the cli metadata.
const (
	configKey   = "config"
	settingsKey = "settings"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := setupApp().RunContext(ctx, os.Args); err != nil {
		log.WithError(err).Fatal("routerctl failed")
	}
}

func setupApp() *cli.App {
	return &cli.App{
		Name:  "routerctl",
		Usage: "Manage home and small-office routers from one interface.",
		Description: `routerctl detects the vendor of a router, logs in with the matching
   adapter and manages DHCP reservations, port forwards, system information
   and configuration backups. It runs as a one-shot CLI, an HTTP JSON
   service or a stdio JSON-RPC tool server.`,
		Version:  Version,
		HelpName: "routerctl",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{config.EnvConfigPath},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Environment file with ROUTER_* settings; .env is used when present",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
			},
		},
		Before: loadConfig,
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "Run the HTTP JSON front end",
				UsageText: "routerctl serve [--listen addr]",
				Category:  "Front ends",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "HTTP listen address; defaults to the configured one",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Reload router settings when the config or environment file changes",
						Value: true,
					},
				},
				Action: runServe,
			},
			{
				Name:      "mcp",
				Usage:     "Run the stdio JSON-RPC tool server",
				UsageText: "routerctl mcp",
				Category:  "Front ends",
				Action:    runMCP,
			},
			{
				Name:      "detect",
				Usage:     "Detect the router vendor at an address",
				UsageText: "routerctl detect [--verbose] [ip]",
				Category:  "Routers",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Print every probe result",
					},
				},
				Action: runDetect,
			},
			{
				Name:      "check",
				Usage:     "Test the connection to the configured router",
				UsageText: "routerctl check",
				Category:  "Routers",
				Action:    runCheck,
			},
			{
				Name:      "call",
				Usage:     "Invoke one operation and print its result",
				UsageText: "routerctl call <operation> [key=value ...]",
				Category:  "Routers",
				Action:    runCall,
			},
			{
				Name:      "discover",
				Usage:     "Sweep a subnet for routers",
				UsageText: "routerctl discover [cidr]",
				Category:  "Routers",
				Action:    runDiscover,
			},
		},
	}
}

// settings are the global flags that shape configuration loading
type settings struct {
	configPath string
	envFile    string
	debug      bool
	logFormat  string
}

// loadConfig reads the configuration named by the global flags and sets
// up logging.
func loadConfig(c *cli.Context) error {
	s := settings{
		configPath: c.String("config"),
		envFile:    c.String("env-file"),
		debug:      c.Bool("debug"),
		logFormat:  c.String("log-format"),
	}
	if s.envFile == "" {
		s.envFile = s.defaultEnvFile()
	}

	cfg, path, err := s.load()
	if err != nil {
		return err
	}
	if s.configPath == "" {
		s.configPath = path
	}

	log.WithFields(log.Fields{"path": path, "env_file": s.envFile}).Debug("Configuration loaded")
	c.App.Metadata = map[string]interface{}{configKey: cfg, settingsKey: s}
	return nil
}

// defaultEnvFile finds the .env file applied when --env-file is not
// given.
func (s settings) defaultEnvFile() string {
	path := s.configPath
	if path == "" {
		path = config.FindConfigPath()
	}
	return config.FindEnvFile(path)
}

// load reads the config file, applies the environment file and
// variables, and sets up logging.
func (s settings) load() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if s.configPath != "" {
		cfg, path, err = config.LoadFromPath(s.configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}

	var entries map[string]string
	if s.envFile != "" {
		if entries, err = config.LoadEnvironmentFile(s.envFile); err != nil {
			return nil, path, err
		}
	}
	if err := cfg.ApplyEnv(config.EnvLookup(entries)); err != nil {
		return nil, path, err
	}

	if s.debug {
		cfg.Log.Level = "debug"
	}
	if s.logFormat != "" {
		cfg.Log.Format = s.logFormat
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func setupLogging(lc config.LogConfig) error {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch lc.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

func settingsFrom(c *cli.Context) settings {
	s, _ := c.App.Metadata[settingsKey].(settings)
	return s
}
