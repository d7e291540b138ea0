// Package scan owns the job state machine and drives each scan through
// metadata extraction, sampling, detection, quasi-identifier analysis,
// and report persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/detection"
	"github.com/privsense/privsense/pkg/metadata"
	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/notify"
	"github.com/privsense/privsense/pkg/qi"
	"github.com/privsense/privsense/pkg/registry"
	"github.com/privsense/privsense/pkg/repositories"
	"github.com/privsense/privsense/pkg/sampler"
)

const (
	DefaultWorkers              = 4
	DefaultMaxQueued            = 100
	DefaultCancellationDeadline = 30 * time.Second
	DefaultDedupWindow          = 5 * time.Minute
)

// dedupKeyPrefix namespaces submit idempotency keys in Redis.
const dedupKeyPrefix = "privsense:scan:dedup:"

// Config holds orchestrator limits.
type Config struct {
	Workers              int
	MaxQueued            int
	CancellationDeadline time.Duration
	DedupWindow          time.Duration
}

// Request is a scan submission. Nil configs take server defaults.
type Request struct {
	ConnectionID uuid.UUID
	TargetTables []string

	// RequestID enables idempotent submission: a repeat submit with the
	// same id within the dedup window returns the original job id.
	RequestID string

	SamplingConfig        *models.SamplingConfig
	DetectionConfig       *models.DetectionConfig
	QuasiIdentifierConfig *models.QuasiIdentifierConfig
}

// jobState is the worker-owned mutable state of one job. External
// readers only ever get snapshots taken under the state's lock.
type jobState struct {
	mu     sync.Mutex
	job    models.ScanJob
	ctx    context.Context
	cancel context.CancelFunc

	// lastProgress throttles progress events to at most one per second.
	lastProgress time.Time
}

func (st *jobState) snapshot() models.ScanJob {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.job.Snapshot()
}

// Orchestrator accepts scan submissions, executes them on a fixed
// worker pool, and answers status, cancel, and report queries.
type Orchestrator struct {
	registry  *registry.Registry
	extractor *metadata.Extractor
	sampler   *sampler.Sampler
	pipeline  *detection.Pipeline
	analyzer  *qi.Analyzer
	jobs      repositories.ScanJobRepository
	results   repositories.ScanResultRepository
	bus       *notify.Bus
	redis     *redis.Client
	cfg       Config
	logger    *zap.Logger

	mu     sync.RWMutex
	active map[uuid.UUID]*jobState

	queue      chan *jobState
	queueSlots chan struct{}

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator and starts its workers. The redis client
// may be nil, which disables submit idempotency.
func New(
	reg *registry.Registry,
	extractor *metadata.Extractor,
	smp *sampler.Sampler,
	pipeline *detection.Pipeline,
	analyzer *qi.Analyzer,
	jobs repositories.ScanJobRepository,
	results repositories.ScanResultRepository,
	bus *notify.Bus,
	redisClient *redis.Client,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = DefaultMaxQueued
	}
	if cfg.CancellationDeadline <= 0 {
		cfg.CancellationDeadline = DefaultCancellationDeadline
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}

	baseCtx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry:   reg,
		extractor:  extractor,
		sampler:    smp,
		pipeline:   pipeline,
		analyzer:   analyzer,
		jobs:       jobs,
		results:    results,
		bus:        bus,
		redis:      redisClient,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
		active:     make(map[uuid.UUID]*jobState),
		queue:      make(chan *jobState, cfg.MaxQueued),
		queueSlots: make(chan struct{}, cfg.MaxQueued),
		baseCtx:    baseCtx,
		stop:       stop,
	}

	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Submit validates the request, persists a PENDING job, and queues it
// for execution. Returns ResourceExhausted when the queue is full.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (uuid.UUID, error) {
	if req.ConnectionID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: connection_id is required", apperrors.ErrValidation)
	}
	if _, err := o.registry.Lookup(req.ConnectionID); err != nil {
		return uuid.Nil, fmt.Errorf("%w: unknown connection %s", apperrors.ErrValidation, req.ConnectionID)
	}

	samplingCfg, detectionCfg, qiCfg, err := resolveConfigs(req)
	if err != nil {
		return uuid.Nil, err
	}

	if req.RequestID != "" {
		if existing, found, err := o.checkDedup(ctx, req.RequestID); err != nil {
			o.logger.Warn("idempotency check failed, proceeding without dedup", zap.Error(err))
		} else if found {
			return existing, nil
		}
	}

	// Reserve a queue slot before persisting so a full queue rejects
	// the submission without leaving an orphan job row.
	select {
	case o.queueSlots <- struct{}{}:
	default:
		return uuid.Nil, fmt.Errorf("%w: scan queue is full (%d queued)", apperrors.ErrResourceExhausted, o.cfg.MaxQueued)
	}

	st := &jobState{
		job: models.ScanJob{
			ID:                    uuid.New(),
			ConnectionID:          req.ConnectionID,
			TargetTables:          append([]string(nil), req.TargetTables...),
			SamplingConfig:        samplingCfg,
			DetectionConfig:       detectionCfg,
			QuasiIdentifierConfig: qiCfg,
			Status:                models.ScanStatusPending,
			StartedAt:             time.Now(),
		},
	}

	if err := o.jobs.CreateJob(ctx, &st.job); err != nil {
		<-o.queueSlots
		return uuid.Nil, err
	}

	o.mu.Lock()
	o.active[st.job.ID] = st
	o.mu.Unlock()

	if req.RequestID != "" {
		o.storeDedup(ctx, req.RequestID, st.job.ID)
	}

	o.publish(st, models.ScanStatusPending, 0, "queued", "")
	o.queue <- st

	o.logger.Info("scan submitted",
		zap.String("job_id", st.job.ID.String()),
		zap.String("connection_id", req.ConnectionID.String()))
	return st.job.ID, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(ctx context.Context, jobID uuid.UUID) (models.ScanJob, error) {
	o.mu.RLock()
	st, ok := o.active[jobID]
	o.mu.RUnlock()
	if ok {
		return st.snapshot(), nil
	}

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return models.ScanJob{}, err
	}
	return *job, nil
}

// List returns persisted jobs matching the filter.
func (o *Orchestrator) List(ctx context.Context, filter repositories.ScanFilter, page, size int) ([]*models.ScanJob, int, error) {
	return o.jobs.ListJobs(ctx, filter, page, size)
}

// Cancel requests cancellation of a non-terminal job. The job reaches
// CANCELLED at its next cooperative checkpoint; a watchdog forces it
// to FAILED if the deadline passes first.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	o.mu.RLock()
	st, ok := o.active[jobID]
	o.mu.RUnlock()
	if !ok {
		job, err := o.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job is %s", apperrors.ErrAlreadyTerminal, job.Status)
		}
		// Non-terminal but not active: only possible across restarts.
		return fmt.Errorf("%w: job %s is not executing", apperrors.ErrNotFound, jobID)
	}

	st.mu.Lock()
	if st.job.Status.IsTerminal() {
		status := st.job.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: job is %s", apperrors.ErrAlreadyTerminal, status)
	}
	cancel := st.cancel
	st.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		// Still queued: mark cancelled directly, the worker will skip it.
		o.finalize(st, models.ScanStatusCancelled, "")
	}

	go o.watchdog(st)

	o.logger.Info("scan cancellation requested", zap.String("job_id", jobID.String()))
	return nil
}

// watchdog force-fails a cancelled job that missed the deadline.
func (o *Orchestrator) watchdog(st *jobState) {
	timer := time.NewTimer(o.cfg.CancellationDeadline)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-o.baseCtx.Done():
		return
	}

	st.mu.Lock()
	terminal := st.job.Status.IsTerminal()
	st.mu.Unlock()
	if !terminal {
		o.finalize(st, models.ScanStatusFailed, "cancellation exceeded deadline")
	}
}

// Report returns the compliance report of a COMPLETED job.
func (o *Orchestrator) Report(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error) {
	if err := o.requireCompleted(ctx, jobID); err != nil {
		return nil, err
	}
	return o.results.GetReport(ctx, jobID)
}

// ReportJSON returns the stored report payload verbatim; repeated calls
// are byte-equal.
func (o *Orchestrator) ReportJSON(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	if err := o.requireCompleted(ctx, jobID); err != nil {
		return nil, err
	}
	return o.results.GetReportJSON(ctx, jobID)
}

func (o *Orchestrator) requireCompleted(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.Status(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.ScanStatusCompleted {
		return fmt.Errorf("%w: job is %s", apperrors.ErrNotCompleted, job.Status)
	}
	return nil
}

// Stop drains the workers. Queued jobs that never started stay PENDING.
func (o *Orchestrator) Stop() {
	o.stop()
	o.wg.Wait()
}

// checkDedup returns the job id already bound to a request id, if any.
func (o *Orchestrator) checkDedup(ctx context.Context, requestID string) (uuid.UUID, bool, error) {
	if o.redis == nil {
		return uuid.Nil, false, nil
	}
	val, err := o.redis.Get(ctx, dedupKeyPrefix+requestID).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt dedup entry: %w", err)
	}
	return id, true, nil
}

func (o *Orchestrator) storeDedup(ctx context.Context, requestID string, jobID uuid.UUID) {
	if o.redis == nil {
		return
	}
	if err := o.redis.SetNX(ctx, dedupKeyPrefix+requestID, jobID.String(), o.cfg.DedupWindow).Err(); err != nil {
		o.logger.Warn("failed to store idempotency key", zap.Error(err))
	}
}

// resolveConfigs normalizes request configs, falling back to defaults
// for anything unset.
func resolveConfigs(req Request) (models.SamplingConfig, models.DetectionConfig, models.QuasiIdentifierConfig, error) {
	samplingCfg := models.DefaultSamplingConfig()
	if req.SamplingConfig != nil {
		samplingCfg = *req.SamplingConfig
	}
	if err := samplingCfg.Normalize(); err != nil {
		return samplingCfg, models.DetectionConfig{}, models.QuasiIdentifierConfig{}, fmt.Errorf("%w: %s", apperrors.ErrValidation, err)
	}

	detectionCfg := models.DefaultDetectionConfig()
	if req.DetectionConfig != nil {
		detectionCfg = *req.DetectionConfig
	}
	if err := detectionCfg.Normalize(samplingCfg.MaxConcurrentQueries); err != nil {
		return samplingCfg, detectionCfg, models.QuasiIdentifierConfig{}, fmt.Errorf("%w: %s", apperrors.ErrValidation, err)
	}

	qiCfg := models.DefaultQuasiIdentifierConfig()
	if req.QuasiIdentifierConfig != nil {
		qiCfg = *req.QuasiIdentifierConfig
	}
	if err := qiCfg.Normalize(); err != nil {
		return samplingCfg, detectionCfg, qiCfg, fmt.Errorf("%w: %s", apperrors.ErrValidation, err)
	}

	return samplingCfg, detectionCfg, qiCfg, nil
}
