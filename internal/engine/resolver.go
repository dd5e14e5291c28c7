package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"siteproof/internal/audit"
	"siteproof/internal/domain"
	"siteproof/internal/repo"
)

func newID() string {
	return uuid.New().String()
}

// RoleGap is a signature seat created without a resolvable signer: the role
// has no assigned person in the project. A data/config gap, not an error.
type RoleGap struct {
	DocumentID   string `json:"document_id"`
	DocumentKind string `json:"document_kind"`
	Role         string `json:"role"`
}

// ApplyResult is the outcome of applying a trigger event to a work unit.
type ApplyResult struct {
	Created         []domain.Document `json:"created"`
	SkippedKinds    []string          `json:"skipped_kinds,omitempty"`
	UnassignedRoles []RoleGap         `json:"unassigned_roles,omitempty"`
}

// ResolveRules returns the matrix rules applicable to a work unit for a
// trigger event: active rules matching category and trigger in the unit's
// project scope or global, deduplicated by document kind with project-scoped
// rules shadowing global defaults.
func (e Engine) ResolveRules(ctx context.Context, workUnit domain.WorkUnit, triggerEvent string) ([]domain.MatrixRule, error) {
	rules, err := e.Repo.FindRules(ctx, workUnit.ProjectID, workUnit.Category, triggerEvent)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []domain.MatrixRule
	for _, r := range rules {
		if seen[r.DocumentKind] {
			continue
		}
		seen[r.DocumentKind] = true
		out = append(out, r)
	}
	return out, nil
}

// ApplyTrigger resolves the rules for a trigger event and creates the missing
// documents with their pending signature seats, all in one transaction.
// Reapplying the same trigger is idempotent: a non-deleted document of a kind
// already present for the work unit is skipped, and existing documents are
// never mutated.
func (e Engine) ApplyTrigger(ctx context.Context, workUnitID, triggerEvent, actor string) (ApplyResult, error) {
	var result ApplyResult
	if triggerEvent == "" {
		return result, errors.New("trigger event is required")
	}
	wu, err := e.workUnit(ctx, workUnitID)
	if err != nil {
		return result, err
	}
	rules, err := e.ResolveRules(ctx, wu, triggerEvent)
	if err != nil {
		return result, err
	}
	if len(rules) == 0 {
		return result, nil
	}
	assignments, err := e.Repo.ListRoleAssignments(ctx, wu.ProjectID)
	if err != nil {
		return result, err
	}
	personByRole := map[string]string{}
	for _, a := range assignments {
		personByRole[a.Role] = a.PersonID
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()
	for _, rule := range rules {
		// idempotency check and creation share the transaction so concurrent
		// triggers for the same work unit cannot both create the document
		exists, err := e.Repo.DocumentOfKindExistsTx(ctx, tx, wu.ID, rule.DocumentKind)
		if err != nil {
			return result, err
		}
		if exists {
			result.SkippedKinds = append(result.SkippedKinds, rule.DocumentKind)
			continue
		}
		title := rule.DocumentKind
		if e.Config != nil {
			if spec, ok := e.Config.Kinds[rule.DocumentKind]; ok && spec.Title != "" {
				title = spec.Title
			}
		}
		ruleID := rule.ID
		doc := domain.Document{
			ID:         newID(),
			ProjectID:  wu.ProjectID,
			Kind:       rule.DocumentKind,
			Title:      fmt.Sprintf("%s - %s", title, wu.Title),
			Status:     domain.StatusDraft,
			Revision:   1,
			WorkUnitID: &wu.ID,
			RuleID:     &ruleID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if wu.Location != "" {
			loc := wu.Location
			doc.Location = &loc
		}
		if err := e.Repo.InsertDocumentTx(ctx, tx, doc); err != nil {
			return result, err
		}
		for i, role := range rule.SignerRoles {
			seat := domain.Signature{
				ID:         newID(),
				DocumentID: doc.ID,
				SignerRole: role,
				Status:     domain.SignaturePending,
				OrderIndex: i,
			}
			if personID, ok := personByRole[role]; ok {
				p := personID
				seat.PersonID = &p
			} else {
				result.UnassignedRoles = append(result.UnassignedRoles, RoleGap{
					DocumentID:   doc.ID,
					DocumentKind: doc.Kind,
					Role:         role,
				})
			}
			if err := e.Repo.InsertSignatureTx(ctx, tx, seat); err != nil {
				return result, err
			}
		}
		rec := audit.Record{
			DocumentID: doc.ID,
			FromStatus: "",
			ToStatus:   domain.StatusDraft,
			ActorID:    actor,
			Comment:    fmt.Sprintf("created by rule %s on %q", rule.ID, triggerEvent),
			Applied:    true,
		}
		if err := e.auditWriter().AppendTx(ctx, tx, rec); err != nil {
			log.Printf("audit: append creation %s: %v", doc.ID, err)
		}
		result.Created = append(result.Created, doc)
	}
	if err := tx.Commit(); err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// MissingDocuments reports which document kinds a trigger would still create
// for a work unit, without creating anything.
func (e Engine) MissingDocuments(ctx context.Context, workUnitID, triggerEvent string) ([]domain.MatrixRule, error) {
	wu, err := e.workUnit(ctx, workUnitID)
	if err != nil {
		return nil, err
	}
	rules, err := e.ResolveRules(ctx, wu, triggerEvent)
	if err != nil {
		return nil, err
	}
	var missing []domain.MatrixRule
	for _, rule := range rules {
		existing, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{WorkUnitID: wu.ID, Kind: rule.DocumentKind, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(existing) == 0 {
			missing = append(missing, rule)
		}
	}
	return missing, nil
}
