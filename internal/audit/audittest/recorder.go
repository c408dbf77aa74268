// Package audittest provides an in-memory audit service for tests.
package audittest

import (
	"context"
	"sync"

	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
)

type Entry struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	Err     error
}

func (r *Recorder) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	entry := Entry{ActorType: actorType, Action: action, TargetType: targetType, Metadata: metadata}
	if actorID != nil {
		entry.ActorID = *actorID
	}
	if targetID != nil {
		entry.TargetID = *targetID
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *Recorder) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Actions returns the recorded action names in order.
func (r *Recorder) Actions() []string {
	entries := r.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

var _ auditdomain.Service = (*Recorder)(nil)
