package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

// JobCursor points at the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// DecodeJobCursor parses a cursor produced by EncodeJobCursor. An empty
// string means the first page.
func DecodeJobCursor(cursorStr string) (*JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidArgument)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("%w: invalid cursor format", domain.ErrInvalidArgument)
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("%w: invalid created_at in cursor", domain.ErrInvalidArgument)
	}

	return &JobCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		JobID:     parts[1],
	}, nil
}

// EncodeJobCursor returns the opaque cursor for job
func EncodeJobCursor(job *domain.Job) string {
	cs := fmt.Sprintf("%d|%s", job.CreatedAt.UnixNano(), job.ID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}

// pageAfter returns up to size jobs following the cursor, and whether more remain
func pageAfter(jobs []*domain.Job, cursor *JobCursor, size int) ([]*domain.Job, bool, error) {
	start := 0
	if cursor != nil {
		start = -1
		for i, j := range jobs {
			if j.ID == cursor.JobID {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, false, fmt.Errorf("%w: cursor does not match any job", domain.ErrInvalidArgument)
		}
	}

	rest := jobs[start:]
	if len(rest) > size {
		return rest[:size], true, nil
	}
	return rest, false, nil
}
