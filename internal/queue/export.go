package queue

import (
	"encoding/csv"
	"io"
	"strconv"

	apperrors "github.com/tillworks/possync/internal/errors"
)

// exportLimit caps the diagnostics export; this is not a correctness-
// critical path, just a bounded snapshot.
const exportLimit = 10000

// ExportCSV writes up to 10,000 queued items as CSV to w and returns the
// number of rows written. The payload column carries the raw JSON text;
// csv quoting handles the escaping.
func (q *Queue) ExportCSV(w io.Writer) (int, error) {
	items, err := q.List(exportLimit)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "action", "payload", "enqueued_at", "retry_count"}); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternal, "failed to write csv header", err)
	}

	for i, item := range items {
		record := []string{
			item.ID.String(),
			item.Action,
			string(item.Payload),
			strconv.FormatInt(item.EnqueuedAt, 10),
			strconv.Itoa(item.RetryCount),
		}
		if err := cw.Write(record); err != nil {
			return i, apperrors.Wrap(apperrors.ErrInternal, "failed to write csv row", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(items), apperrors.Wrap(apperrors.ErrInternal, "failed to flush csv", err)
	}
	return len(items), nil
}
