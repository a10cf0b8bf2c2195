package httpapi

import (
	"os"

	"github.com/catalogsearch/search/internal/jsonutil"
)

// WriteStatusFile persists a ReindexStatus to path as JSON, so the
// out-of-process search-reindex command can hand its result to the
// long-running search-server for /api/reindex/status to serve.
func WriteStatusFile(path string, status ReindexStatus) error {
	body, err := jsonutil.Marshal(status)
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

// ReadStatusFile loads a ReindexStatus previously written by
// WriteStatusFile. A missing file is not an error: it just means no
// reindex has completed yet.
func ReadStatusFile(path string) (ReindexStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReindexStatus{}, nil
		}
		return ReindexStatus{}, err
	}
	var status ReindexStatus
	if err := jsonutil.Unmarshal(data, &status); err != nil {
		return ReindexStatus{}, err
	}
	return status, nil
}
