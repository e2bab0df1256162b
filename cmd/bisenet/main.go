package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sugarme/bisenet/bisenet"
	"github.com/sugarme/bisenet/config"
	"github.com/sugarme/bisenet/graph"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bisenet",
		Short: "bisenet builds and runs the BiSeNet segmentation network",
		Long: `bisenet builds the BiSeNet graph from an HCL config file and
BISENET_* environment variables. It prints layer summaries, exports the
graph, plots parameters and segments images with libtorch.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "HCL config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(summaryCmd(), graphCmd(), plotCmd(), predictCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (logr.Logger, func()) {
	var (
		z   *zap.Logger
		err error
	)
	if verbose {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(z), func() { _ = z.Sync() }
}

// load reads the config and builds the graph it describes.
func load(log logr.Logger) (*config.Config, *graph.Graph, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log.V(1).Info("config loaded",
		"file", configFile,
		"input", cfg.Model.Input.String(),
		"backbone", cfg.Model.Backbone,
		"classes", cfg.Model.Classes)

	g, err := bisenet.Build(cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	log.V(1).Info("graph built", "nodes", len(g.Nodes()), "params", g.ParamCount())
	return cfg, g, nil
}
