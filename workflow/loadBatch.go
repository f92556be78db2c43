package workflow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/sirupsen/logrus"
)

const maxBatchLineBytes = 1024 * 1024

type BatchSummary struct {
	Lines    int `json:"lines"`
	Decided  int `json:"decided"`
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
}

// ProcessLoadBatch decides one JSON load per input line and writes one JSON response
// per decided line, in input order. Lines that fail to parse are logged and skipped.
// An evaluator error stops the batch; responses already decided are flushed first.
func ProcessLoadBatch(ctx context.Context, evaluator LoadEvaluator, logger *logrus.Logger, r io.Reader, w io.Writer) (BatchSummary, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	var summary BatchSummary

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBatchLineBytes)
	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			_ = out.Flush()
			return summary, err
		}
		summary.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			summary.Skipped++
			continue
		}

		var input models.NewLoadRequest
		if err := json.Unmarshal([]byte(line), &input); err != nil {
			config.LogError(logger, "LoadBatch", "ProcessLoadBatch", fmt.Sprintf("line %d: unreadable json", summary.Lines), line, err)
			summary.Skipped++
			continue
		}
		req, err := input.Parse()
		if err != nil {
			config.LogError(logger, "LoadBatch", "ProcessLoadBatch", fmt.Sprintf("line %d: invalid load", summary.Lines), input, err)
			summary.Skipped++
			continue
		}

		resp, err := evaluator.Evaluate(ctx, req)
		if err != nil {
			_ = out.Flush()
			return summary, fmt.Errorf("line %d: %w", summary.Lines, err)
		}
		summary.Decided++
		if resp.Accepted {
			summary.Accepted++
		}
		if err := enc.Encode(resp); err != nil {
			return summary, err
		}
	}
	if err := scanner.Err(); err != nil {
		_ = out.Flush()
		return summary, fmt.Errorf("read batch: %w", err)
	}
	if err := out.Flush(); err != nil {
		return summary, err
	}

	logger.WithFields(logrus.Fields{
		"lines":    summary.Lines,
		"decided":  summary.Decided,
		"accepted": summary.Accepted,
		"skipped":  summary.Skipped,
	}).Info("load batch processed")
	return summary, nil
}
