package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/devserver/internal/config"
)

// options holds the flags shared by every subcommand. Set flags override
// both the YAML file and the DEVSERVER_* environment variables.
type options struct {
	configFile   string
	root         string
	host         string
	port         int
	open         bool
	noLiveReload bool
	noCORS       bool
}

// NewRootCmd returns the devserver command tree. Run without a subcommand it
// behaves like "serve".
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "devserver",
		Short: "Frontend dev server with a WebSocket-aware proxy",
		Long: `Serve a frontend project root with live reload and forward matching
requests, including WebSocket upgrades, to backend services.

Configuration is read from devserver.yaml when present. Without it the
RealTimeChat client is served from src/RealTimeChat.Client and /ws is
proxied to http://0.0.0.0:5000.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Path to the dev server YAML file (overrides DEVSERVER_CONFIG)")
	f.StringVar(&opts.root, "root", "", "Project root to serve (overrides DEVSERVER_ROOT)")
	f.StringVar(&opts.host, "host", "", "Listen host (overrides DEVSERVER_HOST)")
	f.IntVarP(&opts.port, "port", "p", 0, "Listen port (overrides DEVSERVER_PORT)")
	f.BoolVar(&opts.open, "open", false, "Open the browser on startup")
	f.BoolVar(&opts.noLiveReload, "no-live-reload", false, "Disable file watching and browser reload")
	f.BoolVar(&opts.noCORS, "no-cors", false, "Do not send CORS headers")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newCheckCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load resolves the effective configuration. Later sources win: built-in
// defaults, the YAML file, DEVSERVER_* variables, then flags.
func (o *options) load() (*config.AppConfig, *config.DevServerConfig, error) {
	app, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	path := app.ConfigFile
	if o.configFile != "" {
		path = o.configFile
	}
	cfg, err := config.LoadDevServerConfig(path)
	if err != nil {
		return nil, nil, err
	}
	app.Apply(cfg)

	if o.root != "" {
		cfg.Root = o.root
	}
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.open {
		cfg.Server.Open = true
	}
	if o.noLiveReload {
		cfg.Server.LiveReload = false
	}
	if o.noCORS {
		cfg.Server.CORS = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return app, cfg, nil
}
