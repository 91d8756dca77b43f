// Command ckp-agent runs the reference CKP agents over stdio.
//
// Protocol frames use stdout, so every log line goes to stderr.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/angelgalvisc/clawkernel/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" type:"path" help:"Config file, or a directory holding ckp-agent.yaml"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the agent over stdin/stdout"`
	Validate ValidateCmd `cmd:"" help:"Validate the config and CKP manifests"`
	Card     CardCmd     `cmd:"" help:"Print the A2A agent card"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// Run prints the binary version.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("ckp-agent %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ckp-agent"),
		kong.Description("Reference Claw Kernel Protocol agent."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// load reads the configuration named by --config. Without the flag the
// working directory is searched and the defaults apply when nothing is
// found.
func (g *Globals) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case g.Config != "":
		cfg, err = config.Load(g.Config)
	case hasConfigFile("."):
		cfg, err = config.Load(".")
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	return cfg, nil
}

func hasConfigFile(dir string) bool {
	for _, name := range config.FileNames {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// newLogger builds the process logger. JSON is the default format.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.GetLevel()}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
