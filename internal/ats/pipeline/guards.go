package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/ats/postings"
)

// PostingOpenGuard refuses moves on postings that are not open. Rejecting
// and withdrawing stay possible so closed postings can be wound down.
type PostingOpenGuard struct{}

func (PostingOpenGuard) Name() string { return "posting_open" }

func (PostingOpenGuard) Check(ctx context.Context, t *Transition) error {
	if t.To == StageRejected || t.To == StageWithdrawn {
		return nil
	}
	if t.Posting == nil || t.Posting.Status != postings.StatusOpen {
		return t.Deny("posting is not open")
	}
	return nil
}

// ApprovedDocuments lists the document types approved for an application
type ApprovedDocuments interface {
	ApprovedTypes(ctx context.Context, tenantID, applicationID uuid.UUID) ([]string, error)
}

// DocumentsApprovedGuard requires every document type the posting lists as
// required to be approved before an offer
type DocumentsApprovedGuard struct {
	Documents ApprovedDocuments
}

func (DocumentsApprovedGuard) Name() string { return "documents_approved" }

func (g DocumentsApprovedGuard) Check(ctx context.Context, t *Transition) error {
	if t.To != StageOffer || t.Posting == nil || len(t.Posting.RequiredDocuments) == 0 {
		return nil
	}

	approved, err := g.Documents.ApprovedTypes(ctx, t.Application.TenantID, t.Application.ID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(approved))
	for _, a := range approved {
		have[a] = true
	}

	var missing []string
	for _, req := range t.Posting.RequiredDocuments {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return t.Deny("documents not approved: %s", strings.Join(missing, ", "))
	}
	return nil
}
