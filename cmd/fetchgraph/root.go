package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "github.com/hanpama/fetchgraph/internal/config"
	logger "github.com/hanpama/fetchgraph/internal/logger"
	metadata "github.com/hanpama/fetchgraph/internal/metadata"
	planner "github.com/hanpama/fetchgraph/internal/planner"
)

// app is the state shared by subcommands once PersistentPreRunE ran.
type app struct {
	cfgFile    string
	cfg        *config.Config
	configPath string
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "fetchgraph",
		Short: "Selection-driven fetch planning",
		Long: `fetchgraph - selection-driven fetch planning

fetchgraph compiles the minimal set of fetch paths an entity graph needs to
satisfy a GraphQL selection. Entity metadata is read from annotated SDL.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, path, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			log, err := logger.New(cfg.Log.Format, cfg.Log.Level)
			if err != nil {
				return err
			}
			a.cfg, a.configPath, a.log = cfg, path, log
			if path != "" {
				log.Debug("loaded config file", zap.String("path", path))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: auto-discover fetchgraph.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error or none")
	pf.String("log-format", "", "log format: text or json")
	pf.String("metadata", "", "annotated SDL describing entity types")
	pf.StringArray("root", nil, "map a root field to an entity type as field=Type. Repeatable")
	pf.Int("max-depth", 0, "maximum relation hops per plan (0 = unbounded)")

	cmd.AddCommand(newPlanCmd(a), newValidateCmd(a), newServeCmd(a))
	return cmd
}

// registry loads the configured metadata SDL.
func (a *app) registry() (*metadata.Registry, error) {
	src, err := os.ReadFile(a.cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	reg, err := metadata.FromSDL(a.cfg.Metadata, string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.cfg.Metadata, err)
	}
	return reg, nil
}

// planner builds a planner from the loaded configuration.
func (a *app) planner() (*planner.Planner, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	roots, err := a.cfg.RootMap()
	if err != nil {
		return nil, err
	}
	return planner.New(reg,
		planner.WithRoots(roots),
		planner.WithSkipOvers(a.cfg.Rules()...),
		planner.WithMaxDepth(a.cfg.Planner.MaxDepth),
		planner.WithLogger(a.log),
	)
}
