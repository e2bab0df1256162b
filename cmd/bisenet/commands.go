package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/bisenet/bisenet"
	"github.com/sugarme/bisenet/imgio"
	"github.com/sugarme/bisenet/nnet"
	"github.com/sugarme/bisenet/summary"
)

func summaryCmd() *cobra.Command {
	var csvFile string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print layers, output shapes and parameter counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, sync := newLogger()
			defer sync()

			_, g, err := load(log)
			if err != nil {
				return err
			}
			if csvFile == "" {
				return summary.WriteText(cmd.OutOrStdout(), g)
			}

			f, err := os.Create(csvFile)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := summary.WriteCSV(f, g); err != nil {
				return errors.Wrapf(err, "write %s", csvFile)
			}
			log.Info("summary written", "file", csvFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvFile, "csv", "", "Write the summary as CSV to this file instead of stdout")
	return cmd
}

func graphCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the layer graph in Graphviz DOT format",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, sync := newLogger()
			defer sync()

			_, g, err := load(log)
			if err != nil {
				return err
			}
			if outFile == "" {
				return g.WriteDOT(cmd.OutOrStdout(), "bisenet")
			}

			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := g.WriteDOT(f, "bisenet"); err != nil {
				return err
			}
			log.Info("graph written", "file", outFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "DOT output file (default stdout)")
	return cmd
}

func plotCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot parameters per model scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, sync := newLogger()
			defer sync()

			_, g, err := load(log)
			if err != nil {
				return err
			}
			if err := summary.PlotParams(g, outFile); err != nil {
				return err
			}
			log.Info("plot written", "file", outFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "params.png", "Chart file; format follows the extension")
	return cmd
}

func predictCmd() *cobra.Command {
	var (
		outFile string
		overlay bool
	)
	cmd := &cobra.Command{
		Use:   "predict IMAGE",
		Short: "Segment an image and save the class mask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, sync := newLogger()
			defer sync()

			cfg, g, err := load(log)
			if err != nil {
				return err
			}

			device := cfg.TorchDevice()
			vs := nn.NewVarStore(device)
			net, err := nnet.New(vs.Root(), g)
			if err != nil {
				return err
			}
			if cfg.Weights != "" {
				if _, err := nnet.LoadWeights(vs, cfg.Weights, cfg.LoadFrom, log); err != nil {
					return err
				}
			} else {
				log.Info("no weights configured, using initial values")
			}
			nnet.Describe(net, vs, log)

			img, err := imgio.Read(args[0])
			if err != nil {
				return err
			}
			in := cfg.Model.Input
			x := imgio.ToTensor(img, in.Height, in.Width, device)
			defer x.MustDrop()

			var outputs map[string]*ts.Tensor
			ts.NoGrad(func() {
				outputs, err = net.Forward(map[string]*ts.Tensor{
					bisenet.InputImage:    x,
					bisenet.InputBackbone: x,
				}, false)
			})
			if err != nil {
				return err
			}
			for name, t := range outputs {
				if name != bisenet.OutputSegmentation {
					t.MustDrop()
				}
			}
			logits := outputs[bisenet.OutputSegmentation]
			defer logits.MustDrop()

			labels, err := imgio.TensorLabels(logits)
			if err != nil {
				return err
			}
			size := logits.MustSize()
			mask, err := imgio.MaskImage(labels, int(size[2]), int(size[3]), cfg.Model.Classes)
			if err != nil {
				return err
			}

			bounds := img.Bounds()
			result := imgio.Upscale(mask, bounds.Dx(), bounds.Dy())
			if overlay {
				result = imgio.Overlay(img, result, 128)
			}
			if err := imgio.Save(result, outFile); err != nil {
				return err
			}
			log.Info("mask written", "file", outFile, "classes", cfg.Model.Classes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "mask.png", "Output mask file")
	cmd.Flags().BoolVar(&overlay, "overlay", false, "Blend the mask over the input image")
	return cmd
}
