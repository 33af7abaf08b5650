package workerpool

import (
	"context"
	"fmt"

	"github.com/bobmcallan/gatewayd/internal/interfaces"
	"github.com/bobmcallan/gatewayd/internal/models"
)

// StubProcessor is the Processor the app wires into the worker pool; the
// pool runs it for every claimed job whatever its type. It reports one
// progress step and returns "processed:<text>" as both summary and
// responseText, standing in for a real skill executor.
func StubProcessor(ctx context.Context, job *models.Job, reporter interfaces.ProgressReporter) (map[string]interface{}, error) {
	text, _ := job.Payload["text"].(string)

	percent := 50
	if err := reporter.ReportProgress(ctx, models.Progress{
		Message: "processing",
		Step:    "process",
		Percent: &percent,
	}); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("processed:%s", text)
	return map[string]interface{}{
		"summary":      summary,
		"responseText": summary,
	}, nil
}
