package jobs

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/pipeline"
	"github.com/EmpoweredVote/EV-Geography/internal/progress"
)

// PipelineRunner loads the job file on every run, so edits take effect
// without a restart.
type PipelineRunner struct {
	Store   geography.Store
	Workers int
	Log     *logrus.Entry
}

func (p PipelineRunner) Run(ctx context.Context, configPath string, sel pipeline.Selection, report func(stage string) progress.Func) (pipeline.Summary, error) {
	job, err := config.Load(configPath)
	if err != nil {
		return pipeline.Summary{}, err
	}
	pl := pipeline.New(job, p.Store,
		pipeline.WithLogger(p.Log),
		pipeline.WithWorkers(p.Workers),
		pipeline.WithProgress(report),
	)
	return pl.Run(ctx, sel)
}
