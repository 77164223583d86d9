package postgres

import (
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

const jobColumns = `id, tags, status, data, error, created_at, started_at, completed_at`

type jobRow struct {
	ID          string         `db:"id"`
	Tags        pq.StringArray `db:"tags"`
	Status      string         `db:"status"`
	Data        []byte         `db:"data"`
	Error       string         `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   *time.Time     `db:"started_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	data := map[string]any{}
	if len(r.Data) > 0 {
		if data, err = domain.ParseData(r.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
		}
	}

	tags := []string(r.Tags)
	if tags == nil {
		tags = []string{}
	}

	return &domain.Job{
		ID:          r.ID,
		Tags:        tags,
		Status:      status,
		CreatedAt:   r.CreatedAt.UTC(),
		StartedAt:   utc(r.StartedAt),
		CompletedAt: utc(r.CompletedAt),
		Error:       r.Error,
		Data:        data,
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// tagArray never returns a nil array, which lib/pq would send as NULL
func tagArray(tags []string) pq.StringArray {
	return append(pq.StringArray{}, tags...)
}
