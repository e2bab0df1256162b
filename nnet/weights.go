package nnet

import (
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
)

// Weight loading modes.
const (
	// FromCheckpoint requires every variable to be present in the file.
	FromCheckpoint = "checkpoint"
	// FromScratch loads whatever matches, typically pretrained encoder
	// weights, and leaves the rest at their initial values.
	FromScratch = "scratch"
)

// LoadWeights loads the variables of vs from fpath. It returns the names
// of the variables left uninitialized, which is always empty for
// FromCheckpoint.
func LoadWeights(vs *nn.VarStore, fpath, from string, log logr.Logger) ([]string, error) {
	modelPath, err := filepath.Abs(fpath)
	if err != nil {
		return nil, errors.Wrapf(err, "weights %q", fpath)
	}

	switch from {
	case FromCheckpoint:
		if err := vs.Load(modelPath); err != nil {
			return nil, errors.Wrapf(err, "load checkpoint %q", modelPath)
		}
		log.Info("loaded checkpoint", "path", modelPath, "vars", vs.Len())
		return nil, nil
	case FromScratch:
		missings, err := vs.LoadPartial(modelPath)
		if err != nil {
			return nil, errors.Wrapf(err, "load weights %q", modelPath)
		}
		log.Info("loaded partial weights", "path", modelPath, "missing", len(missings))
		for _, m := range missings {
			log.V(1).Info("missing var", "name", m)
		}
		return missings, nil
	default:
		return nil, errors.Errorf("invalid load option. Expected %q or %q. Got: %q", FromCheckpoint, FromScratch, from)
	}
}

// Describe logs a one line account of net.
func Describe(net *Net, vs *nn.VarStore, log logr.Logger) {
	log.Info("compiled graph",
		"layers", len(net.ops),
		"inputs", len(net.g.Inputs()),
		"outputs", len(net.g.Outputs()),
		"params", ParamCount(vs))
}
