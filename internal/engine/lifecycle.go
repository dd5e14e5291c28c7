package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"siteproof/internal/audit"
	"siteproof/internal/domain"
	"siteproof/internal/repo"
)

// allowedNext is the whole state machine. Terminal states map to empty sets.
var allowedNext = map[string][]string{
	domain.StatusDraft:            {domain.StatusInReview},
	domain.StatusInReview:         {domain.StatusNeedsRevision, domain.StatusPendingSignature, domain.StatusDraft},
	domain.StatusNeedsRevision:    {domain.StatusInReview, domain.StatusDraft},
	domain.StatusPendingSignature: {domain.StatusSigned, domain.StatusNeedsRevision},
	domain.StatusSigned:           {domain.StatusArchived, domain.StatusInPackage},
	domain.StatusArchived:         {},
	domain.StatusInPackage:        {},
}

func transitionAllowed(from, to string) bool {
	for _, s := range allowedNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the legal next statuses for a document.
func (e Engine) AllowedTransitions(ctx context.Context, documentID string) ([]string, error) {
	d, err := e.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	next := allowedNext[d.Status]
	out := make([]string, len(next))
	copy(out, next)
	return out, nil
}

// Transition moves a document to a new status. Every attempt, accepted or
// rejected, leaves a workflow_transitions row; a rejected attempt never
// changes the document.
func (e Engine) Transition(ctx context.Context, documentID, toStatus, actor, comment string) (domain.Document, error) {
	d0, err := e.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return d0, err
	}
	// The validation engine gates review -> signature. It is read-only, so it
	// runs before the write transaction is taken.
	if toStatus == domain.StatusPendingSignature && d0.DeletedAt == nil && transitionAllowed(d0.Status, toStatus) {
		res, err := e.Validate(ctx, documentID)
		if err != nil {
			return d0, err
		}
		if !res.Valid {
			e.auditWriter().Append(ctx, audit.Record{
				DocumentID: documentID,
				FromStatus: d0.Status,
				ToStatus:   toStatus,
				ActorID:    actor,
				Comment:    "validation failed",
			})
			return d0, ValidationFailedError{Errors: res.Errors, Warnings: res.Warnings}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d0, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return d, err
	}
	if err := e.applyTransitionTx(ctx, tx, &d, toStatus, actor, comment); err != nil {
		from := d.Status
		tx.Rollback()
		e.auditWriter().Append(ctx, audit.Record{
			DocumentID: documentID,
			FromStatus: from,
			ToStatus:   toStatus,
			ActorID:    actor,
			Comment:    comment,
		})
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// applyTransitionTx evaluates preconditions and applies a transition inside
// the caller's transaction. The signature reads and the status write share the
// transaction, which is what makes the all-signed / no-pending checks sound.
func (e Engine) applyTransitionTx(ctx context.Context, tx *sql.Tx, d *domain.Document, toStatus, actor, comment string) error {
	if d.DeletedAt != nil {
		return IllegalTransitionError{From: d.Status, To: toStatus, Reason: "document is deleted"}
	}
	if !transitionAllowed(d.Status, toStatus) {
		return IllegalTransitionError{From: d.Status, To: toStatus}
	}
	now := e.nowString()
	switch toStatus {
	case domain.StatusPendingSignature:
		seats, err := e.Repo.ListSignaturesTx(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if len(seats) == 0 {
			return IllegalTransitionError{From: d.Status, To: toStatus, Reason: "no signature seats configured"}
		}
	case domain.StatusSigned:
		seats, err := e.Repo.ListSignaturesTx(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if len(seats) == 0 {
			return IllegalTransitionError{From: d.Status, To: toStatus, Reason: "no signature seats configured"}
		}
		for _, s := range seats {
			if s.Status != domain.SignatureSigned {
				return IllegalTransitionError{From: d.Status, To: toStatus, Reason: fmt.Sprintf("signature %s is %s", s.SignerRole, s.Status)}
			}
		}
		d.LockedAt = &now
	case domain.StatusNeedsRevision:
		if comment == "" {
			return IllegalTransitionError{From: d.Status, To: toStatus, Reason: "revision reason is required"}
		}
		d.LockedAt = nil
		if err := e.Repo.ResetSignaturesTx(ctx, tx, d.ID); err != nil {
			return err
		}
	case domain.StatusDraft:
		d.LockedAt = nil
		if err := e.Repo.ResetSignaturesTx(ctx, tx, d.ID); err != nil {
			return err
		}
	}
	from := d.Status
	d.Status = toStatus
	d.UpdatedAt = now
	if err := e.Repo.UpdateDocumentTx(ctx, tx, *d); err != nil {
		return err
	}
	rec := audit.Record{
		DocumentID: d.ID,
		FromStatus: from,
		ToStatus:   toStatus,
		ActorID:    actor,
		Comment:    comment,
		Applied:    true,
	}
	if err := e.auditWriter().AppendTx(ctx, tx, rec); err != nil {
		// the state change stands; the document row stays authoritative
		log.Printf("audit: append transition %s %s->%s: %v", d.ID, from, toStatus, err)
	}
	return nil
}

// TransitionOutcome is one entry of a bulk transition result.
type TransitionOutcome struct {
	DocumentID string           `json:"document_id"`
	Document   *domain.Document `json:"document,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BulkTransition processes documents independently: one failure never blocks
// or rolls back the others.
func (e Engine) BulkTransition(ctx context.Context, documentIDs []string, toStatus, actor, comment string) []TransitionOutcome {
	outcomes := make([]TransitionOutcome, 0, len(documentIDs))
	for _, id := range documentIDs {
		d, err := e.Transition(ctx, id, toStatus, actor, comment)
		out := TransitionOutcome{DocumentID: id}
		if err != nil {
			out.Error = err.Error()
		} else {
			doc := d
			out.Document = &doc
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Sign marks a signature seat as signed by its assigned person. When the last
// pending seat signs, the document transitions to signed and locks.
func (e Engine) Sign(ctx context.Context, signatureID, actor, comment string) (domain.Signature, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signature{}, err
	}
	defer tx.Rollback()
	sig, err := e.Repo.GetSignatureTx(ctx, tx, signatureID)
	if err != nil {
		return sig, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, sig.DocumentID)
	if err != nil {
		return sig, err
	}
	if d.DeletedAt != nil {
		return sig, repo.ErrNotFound
	}
	if d.Status != domain.StatusPendingSignature {
		return sig, IllegalTransitionError{From: d.Status, To: domain.StatusSigned, Reason: "document is not pending signature"}
	}
	if sig.PersonID == nil {
		return sig, errors.New("signature seat has no assigned person")
	}
	if *sig.PersonID != actor {
		return sig, errors.New("signature assigned to a different person")
	}
	if sig.Status != domain.SignaturePending {
		return sig, fmt.Errorf("signature already %s", sig.Status)
	}
	now := e.nowString()
	sig.Status = domain.SignatureSigned
	sig.SignedAt = &now
	if comment != "" {
		sig.Comment = &comment
	}
	if err := e.Repo.UpdateSignatureTx(ctx, tx, sig); err != nil {
		return sig, err
	}
	seats, err := e.Repo.ListSignaturesTx(ctx, tx, d.ID)
	if err != nil {
		return sig, err
	}
	allSigned := true
	for _, s := range seats {
		if s.Status != domain.SignatureSigned {
			allSigned = false
			break
		}
	}
	if allSigned {
		if err := e.applyTransitionTx(ctx, tx, &d, domain.StatusSigned, actor, ""); err != nil {
			return sig, err
		}
	}
	if err := tx.Commit(); err != nil {
		return sig, err
	}
	return sig, nil
}

// AssignSignature binds a person to a signature seat, filling the gap left
// when the seat's role had no assigned person at creation. Only pending seats
// on unlocked documents can be reassigned.
func (e Engine) AssignSignature(ctx context.Context, signatureID, personID string) (domain.Signature, error) {
	sig, err := e.Repo.GetSignature(ctx, signatureID)
	if err != nil {
		return sig, err
	}
	d, err := e.document(ctx, sig.DocumentID)
	if err != nil {
		return sig, err
	}
	if d.LockedAt != nil {
		return sig, IllegalTransitionError{From: d.Status, To: d.Status, Reason: "document is locked"}
	}
	if sig.Status != domain.SignaturePending {
		return sig, fmt.Errorf("signature already %s", sig.Status)
	}
	if _, err := e.Repo.GetPerson(ctx, personID); err != nil {
		return sig, err
	}
	if err := e.Repo.AssignSignaturePerson(ctx, signatureID, personID); err != nil {
		return sig, err
	}
	sig.PersonID = &personID
	return sig, nil
}

// Reject refuses a signature seat and sends the document back for revision.
// The reason is mandatory and is recorded on the transition; the revision
// reset then returns every seat, including this one, to pending.
func (e Engine) Reject(ctx context.Context, signatureID, actor, reason string) (domain.Signature, error) {
	if reason == "" {
		return domain.Signature{}, errors.New("rejection reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signature{}, err
	}
	defer tx.Rollback()
	sig, err := e.Repo.GetSignatureTx(ctx, tx, signatureID)
	if err != nil {
		return sig, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, sig.DocumentID)
	if err != nil {
		return sig, err
	}
	if d.DeletedAt != nil {
		return sig, repo.ErrNotFound
	}
	if d.Status != domain.StatusPendingSignature {
		return sig, IllegalTransitionError{From: d.Status, To: domain.StatusNeedsRevision, Reason: "document is not pending signature"}
	}
	if sig.PersonID == nil {
		return sig, errors.New("signature seat has no assigned person")
	}
	if *sig.PersonID != actor {
		return sig, errors.New("signature assigned to a different person")
	}
	if sig.Status != domain.SignaturePending {
		return sig, fmt.Errorf("signature already %s", sig.Status)
	}
	sig.Status = domain.SignatureRejected
	sig.Comment = &reason
	if err := e.Repo.UpdateSignatureTx(ctx, tx, sig); err != nil {
		return sig, err
	}
	if err := e.applyTransitionTx(ctx, tx, &d, domain.StatusNeedsRevision, actor, reason); err != nil {
		return sig, err
	}
	if err := tx.Commit(); err != nil {
		return sig, err
	}
	// the revision reset returns the seat to pending; report what was applied
	sig.Status = domain.SignaturePending
	sig.Comment = nil
	return sig, nil
}

// Supersede creates the next revision of a document as a fresh draft linked
// to its parent. Signature seats are copied with pending status.
func (e Engine) Supersede(ctx context.Context, documentID, actor string) (domain.Document, error) {
	parent, err := e.document(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	seats, err := e.Repo.ListSignatures(ctx, parent.ID)
	if err != nil {
		return domain.Document{}, err
	}
	now := e.nowString()
	next := parent
	next.ID = newID()
	next.Status = domain.StatusDraft
	next.Revision = parent.Revision + 1
	next.ParentDocumentID = &parent.ID
	next.LockedAt = nil
	next.CreatedAt = now
	next.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return next, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocumentTx(ctx, tx, next); err != nil {
		return next, err
	}
	for _, s := range seats {
		seat := domain.Signature{
			ID:         newID(),
			DocumentID: next.ID,
			SignerRole: s.SignerRole,
			PersonID:   s.PersonID,
			Status:     domain.SignaturePending,
			OrderIndex: s.OrderIndex,
		}
		if err := e.Repo.InsertSignatureTx(ctx, tx, seat); err != nil {
			return next, err
		}
	}
	rec := audit.Record{
		DocumentID: next.ID,
		FromStatus: "",
		ToStatus:   domain.StatusDraft,
		ActorID:    actor,
		Comment:    fmt.Sprintf("revision %d supersedes %s", next.Revision, parent.ID),
		Applied:    true,
	}
	if err := e.auditWriter().AppendTx(ctx, tx, rec); err != nil {
		log.Printf("audit: append creation %s: %v", next.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return next, err
	}
	return next, nil
}
