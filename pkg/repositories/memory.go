package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/models"
)

// MemoryScanStore is an in-memory implementation of both scan
// repositories, used in tests and in single-process setups without a
// metadata store.
type MemoryScanStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.ScanJob
	results map[uuid.UUID][]models.DetectionResult
	groups  map[uuid.UUID][]models.QuasiIdentifierGroup
	reports map[uuid.UUID][]byte
}

// NewMemoryScanStore creates an empty store.
func NewMemoryScanStore() *MemoryScanStore {
	return &MemoryScanStore{
		jobs:    make(map[uuid.UUID]*models.ScanJob),
		results: make(map[uuid.UUID][]models.DetectionResult),
		groups:  make(map[uuid.UUID][]models.QuasiIdentifierGroup),
		reports: make(map[uuid.UUID][]byte),
	}
}

var (
	_ ScanJobRepository    = (*MemoryScanStore)(nil)
	_ ScanResultRepository = (*MemoryScanStore)(nil)
)

func (s *MemoryScanStore) CreateJob(_ context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: scan job %s already exists", apperrors.ErrPersistence, job.ID)
	}
	cp := job.Snapshot()
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryScanStore) GetJob(_ context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: scan job %s", apperrors.ErrNotFound, jobID)
	}
	cp := job.Snapshot()
	return &cp, nil
}

func (s *MemoryScanStore) UpdateJob(_ context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: scan job %s", apperrors.ErrNotFound, job.ID)
	}
	cp := job.Snapshot()
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryScanStore) ListJobs(_ context.Context, filter ScanFilter, page, size int) ([]*models.ScanJob, int, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 200 {
		size = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ScanJob
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ConnectionID != uuid.Nil && job.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.Since != nil && job.StartedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && job.StartedAt.After(*filter.Until) {
			continue
		}
		cp := job.Snapshot()
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	start := page * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryScanStore) SaveResults(
	_ context.Context,
	jobID uuid.UUID,
	_ *models.SchemaInfo,
	results []models.DetectionResult,
	groups []models.QuasiIdentifierGroup,
	report *models.ComplianceReport,
) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%w: failed to encode report: %v", apperrors.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[jobID] = append([]models.DetectionResult(nil), results...)
	s.groups[jobID] = append([]models.QuasiIdentifierGroup(nil), groups...)
	s.reports[jobID] = payload
	return nil
}

func (s *MemoryScanStore) GetReportJSON(_ context.Context, jobID uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.reports[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: report for scan %s", apperrors.ErrNotFound, jobID)
	}
	return payload, nil
}

func (s *MemoryScanStore) GetReport(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error) {
	payload, err := s.GetReportJSON(ctx, jobID)
	if err != nil {
		return nil, err
	}
	report := &models.ComplianceReport{}
	if err := json.Unmarshal(payload, report); err != nil {
		return nil, fmt.Errorf("%w: failed to decode report: %v", apperrors.ErrPersistence, err)
	}
	return report, nil
}

func (s *MemoryScanStore) GetResults(_ context.Context, jobID uuid.UUID) ([]models.DetectionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DetectionResult(nil), s.results[jobID]...), nil
}
