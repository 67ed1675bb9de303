// Package models provides data model definitions for the possync core.
package models

import (
	"encoding/json"
	"time"
)

// ReportCache holds a cached remote report payload keyed by report name
// and parameter hash.
type ReportCache struct {
	Key      string          `db:"key" json:"key"`
	Payload  json.RawMessage `db:"payload" json:"payload"`
	CachedAt int64           `db:"cached_at" json:"cachedAt"`
}

// TableName returns the table name for ReportCache.
func (ReportCache) TableName() string {
	return "report_cache"
}

// Age returns how long ago the entry was cached.
func (r *ReportCache) Age() time.Duration {
	return time.Since(time.Unix(r.CachedAt, 0))
}
