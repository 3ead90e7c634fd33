package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/model"
	"github.com/RyanBlaney/sonido-pitch/threshold"
)

// Checkpoints writes an artifact per completed epoch into a directory.
// Thresholds are not tuned yet at that point, so checkpoints carry the
// default table.
type Checkpoints struct {
	dir    string
	runID  string
	fp     Fingerprint
	store  config.StorePrecision
	width  int
	logger logging.Logger
}

// NewCheckpoints prepares epoch checkpoints for cfg under cfg.Train.CheckpointDir
func NewCheckpoints(cfg *config.Config, runID string) (*Checkpoints, error) {
	fp, err := FingerprintOf(cfg)
	if err != nil {
		return nil, err
	}
	return &Checkpoints{
		dir:   cfg.Train.CheckpointDir,
		runID: runID,
		fp:    fp,
		store: cfg.Store.Precision,
		width: fp.OutputWidth,
		logger: logging.WithFields(logging.Fields{
			"component": "checkpoints",
			"run_id":    runID,
		}),
	}, nil
}

// Path is where the checkpoint for epoch goes
func (c *Checkpoints) Path(epoch int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-epoch-%03d%s", c.runID, epoch, Ext))
}

func (c *Checkpoints) Checkpoint(ctx context.Context, epoch int, params *model.Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a := New(c.fp, c.store, params, threshold.Uniform(c.width, threshold.Default))
	a.RunID = c.runID
	a.Epoch = epoch

	path := c.Path(epoch)
	if err := a.Save(path); err != nil {
		return err
	}
	c.logger.Debug("Wrote checkpoint", logging.Fields{
		"epoch": epoch,
		"path":  path,
	})
	return nil
}
