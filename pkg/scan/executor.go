package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/logging"
	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/report"
)

// progressInterval throttles progress events while sampling/detecting.
const progressInterval = time.Second

// worker consumes queued jobs until the orchestrator stops.
func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case st := <-o.queue:
			<-o.queueSlots
			o.execute(st)
		case <-o.baseCtx.Done():
			return
		}
	}
}

// execute drives one job through the pipeline. Any error that escapes a
// stage fails the whole job; per-column faults are absorbed inside the
// sampler and detection pipeline.
func (o *Orchestrator) execute(st *jobState) {
	jobID := st.job.ID
	logger := o.logger.With(zap.String("job_id", jobID.String()))

	// A cancel that arrived while queued already finalized the job.
	st.mu.Lock()
	if st.job.Status.IsTerminal() {
		st.mu.Unlock()
		o.forget(jobID)
		return
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	st.ctx = ctx
	st.cancel = cancel
	st.mu.Unlock()
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan panicked", zap.Any("panic", r))
			o.finalize(st, models.ScanStatusFailed, fmt.Sprintf("internal error: %v", r))
		}
		o.forget(jobID)
	}()

	if err := o.transition(st, models.ScanStatusExtractingMetadata, "extracting metadata"); err != nil {
		o.fail(st, err)
		return
	}

	handle, err := o.registry.Borrow(ctx, st.job.ConnectionID)
	if err != nil {
		o.fail(st, err)
		return
	}
	defer handle.Release()

	schema, err := o.extractor.Extract(ctx, handle.Conn, st.job.TargetTables)
	if err != nil {
		o.fail(st, err)
		return
	}

	columns := collectColumns(schema)
	st.mu.Lock()
	st.job.Counters.TablesDiscovered = len(schema.Tables)
	st.job.Counters.TotalColumns = len(columns)
	st.mu.Unlock()

	if err := o.transition(st, models.ScanStatusSampling, "sampling columns"); err != nil {
		o.fail(st, err)
		return
	}

	samples, err := o.sampler.Sample(ctx, handle.Conn, columns, st.job.SamplingConfig, func(done, total int) {
		st.mu.Lock()
		st.job.Counters.ColumnsSampled = done
		st.mu.Unlock()
		o.progress(st, models.ScanStatusSampling, done, total, "sampling columns")
	})
	if err != nil {
		o.fail(st, err)
		return
	}

	if err := o.transition(st, models.ScanStatusDetectingPii, "detecting pii"); err != nil {
		o.fail(st, err)
		return
	}

	results, err := o.pipeline.Detect(ctx, columns, samples, st.job.DetectionConfig, func(done, total int) {
		st.mu.Lock()
		st.job.Counters.ColumnsDetected = done
		st.mu.Unlock()
		o.progress(st, models.ScanStatusDetectingPii, done, total, "detecting pii")
	})
	if err != nil {
		o.fail(st, err)
		return
	}

	// Reproducible report ordering regardless of completion order.
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i].Column, results[j].Column
		if a.TableName != b.TableName {
			return a.TableName < b.TableName
		}
		return a.Name < b.Name
	})

	groups := o.analyzer.Analyze(results, samples, st.job.QuasiIdentifierConfig, jobSeed(jobID))

	piiFound := 0
	for _, r := range results {
		if r.HasPii {
			piiFound++
		}
	}
	st.mu.Lock()
	st.job.Counters.TotalColumnsScanned = len(results)
	st.job.Counters.PiiColumnsFound = piiFound
	st.job.Counters.QiGroupsFound = len(groups)
	st.mu.Unlock()

	if err := o.transition(st, models.ScanStatusGeneratingReport, "generating report"); err != nil {
		o.fail(st, err)
		return
	}

	descriptor, err := o.registry.Lookup(st.job.ConnectionID)
	if err != nil {
		o.fail(st, err)
		return
	}

	now := time.Now()
	st.mu.Lock()
	st.job.CompletedAt = &now
	jobCopy := st.job.Snapshot()
	st.mu.Unlock()

	rep := report.Assemble(jobCopy, descriptor, schema, results, groups, samples)
	if err := o.results.SaveResults(ctx, jobID, schema, results, groups, rep); err != nil {
		o.fail(st, err)
		return
	}

	o.finalize(st, models.ScanStatusCompleted, "")
	logger.Info("scan completed",
		zap.Int("columns", len(results)),
		zap.Int("pii_columns", piiFound),
		zap.Int("qi_groups", len(groups)))
}

// transition persists the new state before any of its side effects run,
// then emits the status event. Cancellation is checked first so a
// cancelled job lands in CANCELLED at the next stage boundary.
func (o *Orchestrator) transition(st *jobState, next models.ScanStatus, operation string) error {
	st.mu.Lock()
	cancelled := st.ctx != nil && st.ctx.Err() != nil
	current := st.job.Status
	st.mu.Unlock()

	if cancelled {
		return apperrors.ErrCancelled
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", current, next)
	}

	st.mu.Lock()
	st.job.Status = next
	jobCopy := st.job.Snapshot()
	st.mu.Unlock()

	if err := o.jobs.UpdateJob(context.Background(), &jobCopy); err != nil {
		return err
	}
	o.publish(st, next, 0, operation, "")
	return nil
}

// fail routes a stage error to the right terminal state.
func (o *Orchestrator) fail(st *jobState, err error) {
	if errors.Is(err, apperrors.ErrCancelled) || errors.Is(err, context.Canceled) {
		o.finalize(st, models.ScanStatusCancelled, "")
		return
	}
	o.finalize(st, models.ScanStatusFailed, logging.SanitizeError(err))
}

// finalize moves the job to a terminal state, persists it, and emits
// the final event. It is a no-op on an already terminal job.
func (o *Orchestrator) finalize(st *jobState, status models.ScanStatus, errMsg string) {
	st.mu.Lock()
	if st.job.Status.IsTerminal() {
		st.mu.Unlock()
		return
	}
	st.job.Status = status
	st.job.ErrorMessage = errMsg
	if st.job.CompletedAt == nil {
		now := time.Now()
		st.job.CompletedAt = &now
	}
	jobCopy := st.job.Snapshot()
	st.mu.Unlock()

	if err := o.jobs.UpdateJob(context.Background(), &jobCopy); err != nil {
		o.logger.Error("failed to persist terminal state",
			zap.String("job_id", jobCopy.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
	}
	o.publish(st, status, 0, "", errMsg)

	if status == models.ScanStatusFailed && errMsg != "" {
		o.logger.Warn("scan failed",
			zap.String("job_id", jobCopy.ID.String()),
			zap.String("error", errMsg))
	}
}

// forget drops a terminal job from the active map. Status queries fall
// through to the repository afterwards.
func (o *Orchestrator) forget(jobID uuid.UUID) {
	o.mu.Lock()
	st, ok := o.active[jobID]
	o.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	terminal := st.job.Status.IsTerminal()
	st.mu.Unlock()
	if terminal {
		o.mu.Lock()
		delete(o.active, jobID)
		o.mu.Unlock()
	}
}

// publish emits a status event without blocking.
func (o *Orchestrator) publish(st *jobState, status models.ScanStatus, progress int, operation, errMsg string) {
	st.mu.Lock()
	jobID := st.job.ID
	st.mu.Unlock()

	o.bus.Publish(models.ScanStatusEvent{
		JobID:            jobID,
		Status:           status,
		ProgressPercent:  progress,
		CurrentOperation: operation,
		Timestamp:        time.Now(),
		ErrorMessage:     errMsg,
	})
}

// progress emits a throttled progress tick, at most one per second.
func (o *Orchestrator) progress(st *jobState, status models.ScanStatus, done, total int, operation string) {
	st.mu.Lock()
	now := time.Now()
	if now.Sub(st.lastProgress) < progressInterval {
		st.mu.Unlock()
		return
	}
	st.lastProgress = now
	st.mu.Unlock()

	percent := 0
	if total > 0 {
		percent = done * 100 / total
	}
	o.publish(st, status, percent, operation, "")
}

func collectColumns(schema *models.SchemaInfo) []models.ColumnInfo {
	var out []models.ColumnInfo
	for _, t := range schema.Tables {
		out = append(out, t.Columns...)
	}
	return out
}

// jobSeed derives a deterministic clustering seed from the job id.
func jobSeed(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}
