// Package cli implements the voton command line over a file-backed page
// store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/kittclouds/voton/internal/config"
	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/logger"
	"github.com/kittclouds/voton/pkg/metrics"
	"github.com/kittclouds/voton/pkg/pages"
	"github.com/kittclouds/voton/pkg/transfer"
)

var (
	errIDRequired   = errors.New("page id is required")
	errPageNotFound = errors.New("page not found")
)

type globalFlags struct {
	db       string
	envFile  string
	logLevel string
	metrics  bool
	help     bool
}

// app holds what commands share. The store is opened on first use so help
// output never touches the database.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	opener *store.Opener

	repo     *pages.Repository
	transfer *transfer.Service
}

func (a *app) pages(ctx context.Context) (*pages.Repository, error) {
	if a.repo != nil {
		return a.repo, nil
	}

	s, err := a.opener.Open(ctx)
	if err != nil {
		return nil, err
	}

	a.repo = pages.New(s, nil,
		pages.WithLogger(a.log),
		pages.WithStrictParents(a.cfg.Store.StrictParents),
	)
	a.transfer = transfer.New(a.repo, transfer.WithLogger(a.log))
	return a.repo, nil
}

func (a *app) transferService(ctx context.Context) (*transfer.Service, error) {
	if _, err := a.pages(ctx); err != nil {
		return nil, err
	}
	return a.transfer, nil
}

// Run is the main entry point. args excludes the program name. Returns the
// exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	o := NewIO(out, errOut)

	var gf globalFlags
	fs := flag.NewFlagSet("voton", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVar(&gf.db, "db", "", "SQLite DSN (overrides VOTON_DB_DSN)")
	fs.StringVar(&gf.envFile, "env-file", ".env", "Optional .env file")
	fs.StringVar(&gf.logLevel, "log-level", "", "Log level (overrides VOTON_LOG_LEVEL)")
	fs.BoolVar(&gf.metrics, "metrics", false, "Print operation counters to stderr on exit")
	fs.BoolVarP(&gf.help, "help", "h", false, "Show help")

	if err := fs.Parse(args); err != nil {
		o.ErrPrintln("error:", err)
		printUsage(o, fs, nil)
		return 1
	}

	cfg, err := config.LoadConfig(gf.envFile)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	if gf.db != "" {
		cfg.Store.DSN = gf.db
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}

	logData, err := logger.New().FromWriter(errOut).Level(cfg.Log.Level).Component("cli").Make()
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	defer logData.Close()

	a := &app{
		cfg:    cfg,
		log:    logData.Logger,
		opener: store.NewOpener(cfg.Store.DSN, logData.Logger),
	}
	defer a.opener.Close()

	commands := a.commands()

	rest := fs.Args()
	if gf.help || len(rest) == 0 {
		printUsage(o, fs, commands)
		return 0
	}

	var cmd *Command
	for _, c := range commands {
		if c.Name() == rest[0] {
			cmd = c
			break
		}
	}
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", rest[0])
		printUsage(o, fs, commands)
		return 1
	}

	var reg *prometheus.Registry
	if gf.metrics {
		reg = prometheus.NewRegistry()
		metrics.RegisterCollectors(reg)
	}

	code := cmd.Run(ctx, o, rest[1:])

	if reg != nil {
		if err := printMetrics(o, reg); err != nil {
			o.ErrPrintln("error:", err)
			return 1
		}
	}
	return code
}

func printUsage(o *IO, fs *flag.FlagSet, commands []*Command) {
	o.Println("voton - local page store")
	o.Println()
	o.Println("Usage: voton [options] <command> [args]")
	o.Println()
	o.Println("Options:")
	var buf strings.Builder
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	o.Printf("%s", buf.String())

	if len(commands) == 0 {
		return
	}
	o.Println()
	o.Println("Commands:")
	for _, c := range commands {
		o.Println(c.HelpLine())
	}
}

func printMetrics(o *IO, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+strconv.Quote(lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			o.ErrPrintln(name, m.GetCounter().GetValue())
		}
	}
	return nil
}
