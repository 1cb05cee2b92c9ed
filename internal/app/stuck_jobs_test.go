package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/internal/domain"
)

type sweeperJobRepo struct {
	mu   sync.Mutex
	jobs map[int64]domain.QAJob
}

func (f *sweeperJobRepo) Create(_ domain.Context, j domain.QAJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return j.ID, nil
}

func (f *sweeperJobRepo) Get(_ domain.Context, id int64) (domain.QAJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.QAJob{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *sweeperJobRepo) UpdateStatus(_ domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = status
	j.ErrorMessage = errMsg
	f.jobs[id] = j
	return nil
}

func (f *sweeperJobRepo) ListProcessingOlderThan(_ domain.Context, cutoff time.Time, limit int) ([]domain.QAJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.QAJob
	for _, j := range f.jobs {
		if j.Status == domain.JobProcessing && j.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func TestStuckJobSweeper_FailsOnlyOldProcessingJobs(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	repo := &sweeperJobRepo{jobs: map[int64]domain.QAJob{
		1: {ID: 1, Status: domain.JobProcessing, CreatedAt: now.Add(-time.Hour)},
		2: {ID: 2, Status: domain.JobProcessing, CreatedAt: now},
		3: {ID: 3, Status: domain.JobCompleted, CreatedAt: now.Add(-time.Hour)},
	}}

	s := NewStuckJobSweeper(repo, 10*time.Minute, time.Minute)
	s.sweepOnce(context.Background())

	stale, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, stale.Status)
	assert.Contains(t, stale.ErrorMessage, "sweeper")

	fresh, err := repo.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, fresh.Status)

	done, err := repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, done.Status)
}

func TestNewStuckJobSweeper_NilRepo(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewStuckJobSweeper(nil, 0, 0))
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example, https://b.example ,"))
}
