// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"time"
)

const (
	MetricsOpBulkInsert = "bulk_insert"
	MetricsOpDelete     = "delete"
	MetricsOpM2M        = "m2m"

	MetricsStageTotal = "total"

	// Bulk insert stages.
	MetricsStageInsertValidate = "insert_validate"
	MetricsStageInsertPlan     = "insert_plan"
	MetricsStageInsertFast     = "insert_fast"
	MetricsStageInsertSlow     = "insert_slow"

	// Delete stages.
	MetricsStageDeleteCollect  = "delete_collect"
	MetricsStageDeleteValidate = "delete_validate"
	MetricsStageDeleteUpdates  = "delete_field_updates"
	MetricsStageDeleteExec     = "delete_exec"
	MetricsStageDeleteFast     = "delete_fast"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

// StageMetricsRecorder receives per-stage timings. Implementations must be
// safe for concurrent use.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

// observeStage is a nil-safe helper used on hot paths.
func observeStage(ctx context.Context, rec StageMetricsRecorder, op, stage string, start time.Time, count int, err error) {
	if rec == nil {
		return
	}
	rec.ObserveStage(ctx, StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     err != nil,
	})
}
