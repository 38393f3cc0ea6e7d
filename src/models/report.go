package models

import "go.mongodb.org/mongo-driver/bson"

// IssueKind classifies a single relation-consistency finding.
type IssueKind string

const (
	// IssueEntityNotFound means the audited entity itself does not exist.
	IssueEntityNotFound IssueKind = "entity_not_found"

	// IssueOrphanedRelation means a foreign key or a back-reference entry
	// points at a document that does not exist.
	IssueOrphanedRelation IssueKind = "orphaned_relation"

	// IssueMissingBidirectional means one side of a relation is missing
	// the other side's reference.
	IssueMissingBidirectional IssueKind = "missing_bidirectional"

	// IssueWriteFailure means a repair update against the store failed.
	IssueWriteFailure IssueKind = "write_failure"
)

// FixAction names a mechanical correction the repair engine knows how
// to apply.
type FixAction string

const (
	FixAddToArray      FixAction = "add_to_array"
	FixRemoveFromArray FixAction = "remove_from_array"
)

// EntityRef identifies one document in the store.
type EntityRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Fix describes a mechanically derivable correction for an issue. It is
// a suggestion only; the auditor never applies it.
type Fix struct {
	Action     FixAction `json:"action"`
	Collection string    `json:"collection"`
	EntityID   string    `json:"entityId"`
	Field      string    `json:"field"`
	Value      string    `json:"value"`
}

// Issue is a single finding from a relation audit.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Relation string    `json:"relation,omitempty"`
	Message  string    `json:"message"`
	Fix      *Fix      `json:"fix,omitempty"`
}

// SkippedRelation records a relation the auditor could not check
// because a document fetch failed. Skips never abort the audit.
type SkippedRelation struct {
	Relation string `json:"relation"`
	Reason   string `json:"reason"`
}

// AuditReport is the full result of a read-only relation audit.
type AuditReport struct {
	Entity EntityRef `json:"entity"`

	// RelatedEntities holds the documents that were loaded while
	// checking forward foreign keys, keyed by relation name.
	RelatedEntities map[string]bson.M `json:"relatedEntities"`

	Issues  []Issue           `json:"issues"`
	Skipped []SkippedRelation `json:"skipped,omitempty"`
}

// HasIssues reports whether the audit found anything wrong.
func (r *AuditReport) HasIssues() bool {
	return len(r.Issues) > 0
}

// IssuesOfKind returns the subset of issues with the given kind.
func (r *AuditReport) IssuesOfKind(kind IssueKind) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			out = append(out, issue)
		}
	}
	return out
}

// UpdateSide says which related document an update touched: the one the
// entity used to point at, or the one it points at now.
type UpdateSide string

const (
	SidePrevious UpdateSide = "previous"
	SideNew      UpdateSide = "new"
)

// UpdateOutcome is the result of one attempted back-reference update.
type UpdateOutcome struct {
	Relation   string     `json:"relation"`
	Side       UpdateSide `json:"side"`
	Collection string     `json:"collection"`
	EntityID   string     `json:"entityId"`
	Field      string     `json:"field"`
	OK         bool       `json:"ok"`
	Error      string     `json:"error,omitempty"`
}

// RepairResult reports every update a sync attempted. Err combines the
// failures; a partial failure still lists the updates that landed.
type RepairResult struct {
	Updates []UpdateOutcome `json:"updates"`
	Err     error           `json:"-"`
}

// OK reports whether every attempted update succeeded.
func (r *RepairResult) OK() bool {
	return r.Err == nil
}

// FailedRelations lists the relation names with at least one failed update.
func (r *RepairResult) FailedRelations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range r.Updates {
		if !u.OK && !seen[u.Relation] {
			seen[u.Relation] = true
			out = append(out, u.Relation)
		}
	}
	return out
}
