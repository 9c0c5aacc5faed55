// Package catalog holds the authoritative reference dataset and cross-checks
// extracted identity keys against it.
package catalog

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// Catalog is an immutable snapshot of active reference records. Reloads swap
// the whole snapshot; readers never observe a half-updated catalog.
type Catalog struct {
	records    []entity.ReferenceRecord
	uploadedAt time.Time
}

// NewCatalog keeps only active records in the snapshot; inactive rows never
// participate in matching.
func NewCatalog(records []entity.ReferenceRecord, uploadedAt time.Time) *Catalog {
	active := make([]entity.ReferenceRecord, 0, len(records))
	for _, r := range records {
		if r.Active {
			active = append(active, r)
		}
	}
	return &Catalog{records: active, uploadedAt: uploadedAt}
}

// Records returns the active records of this snapshot.
func (c *Catalog) Records() []entity.ReferenceRecord { return c.records }

// UploadedAt returns the upload batch timestamp of this snapshot.
func (c *Catalog) UploadedAt() time.Time { return c.uploadedAt }

// Len returns the number of active records.
func (c *Catalog) Len() int { return len(c.records) }

// Holder publishes the current catalog snapshot to concurrent readers.
type Holder struct {
	current atomic.Pointer[Catalog]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(NewCatalog(nil, time.Time{}))
	return h
}

// Swap atomically replaces the published snapshot.
func (h *Holder) Swap(c *Catalog) {
	h.current.Store(c)
}

// Current returns the published snapshot.
func (h *Holder) Current() *Catalog {
	return h.current.Load()
}

// NewRecord builds an active reference record for an upload batch.
func NewRecord(keys entity.IdentityKeys, attrs map[string]string, uploadedAt time.Time) entity.ReferenceRecord {
	return entity.ReferenceRecord{
		ID:         uuid.New(),
		Keys:       keys,
		Attributes: attrs,
		Active:     true,
		UploadedAt: uploadedAt,
	}
}
