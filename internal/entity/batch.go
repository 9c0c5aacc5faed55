package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/dgarciaq/forms-auditor/constants"
)

// DocumentResult is what the pipeline hands back for one processed document.
type DocumentResult struct {
	Fields            map[string]FieldValue     `json:"fields"`
	ValidationResults []ValidationResult        `json:"validation_results"`
	MatchVerdict      MatchVerdict              `json:"match_verdict"`
	Verdict           constants.DocumentVerdict `json:"verdict"`
	RejectionReason   string                    `json:"rejection_reason,omitempty"`
}

// Clone returns an independent copy of the result, safe to read while the
// original keeps being amended.
func (r *DocumentResult) Clone() *DocumentResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Fields != nil {
		cp.Fields = make(map[string]FieldValue, len(r.Fields))
		for k, v := range r.Fields {
			if v.Confidence != nil {
				c := *v.Confidence
				v.Confidence = &c
			}
			cp.Fields[k] = v
		}
	}
	if r.ValidationResults != nil {
		cp.ValidationResults = append([]ValidationResult(nil), r.ValidationResults...)
	}
	if r.MatchVerdict.Discrepancies != nil {
		cp.MatchVerdict.Discrepancies = append([]Discrepancy(nil), r.MatchVerdict.Discrepancies...)
	}
	if r.MatchVerdict.MatchedRecordID != nil {
		id := *r.MatchVerdict.MatchedRecordID
		cp.MatchVerdict.MatchedRecordID = &id
	}
	return &cp
}

// DocumentTask is one document inside a batch job. Mutated only through the
// orchestrator.
type DocumentTask struct {
	ID         uuid.UUID            `json:"id"`
	Status     constants.TaskStatus `json:"status"`
	RetryCount int                  `json:"retry_count"`
	ClaimedAt  *time.Time           `json:"claimed_at,omitempty"`
	Result     *DocumentResult      `json:"result,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// BatchJob groups DocumentTasks for one tenant. Created once; terminal when
// every item is completed or failed with retries exhausted. Jobs carry no
// status field of their own; the orchestrator derives one from the items on
// every read.
type BatchJob struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Items     []DocumentTask `json:"items"`
	Priority  int            `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
}
