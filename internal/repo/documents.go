package repo

import (
	"context"
	"database/sql"
	"strings"

	"siteproof/internal/domain"
)

const documentColumns = `id,project_id,kind,title,number,status,revision,parent_document_id,fields_json,work_unit_id,location,rule_id,document_date,file_name,file_path,created_at,updated_at,locked_at,deleted_at`

func scanDocument(scan func(...any) error) (domain.Document, error) {
	var d domain.Document
	var number, parentID, fields, workUnitID, location, ruleID, docDate, fileName, filePath, lockedAt, deletedAt sql.NullString
	err := scan(&d.ID, &d.ProjectID, &d.Kind, &d.Title, &number, &d.Status, &d.Revision, &parentID, &fields,
		&workUnitID, &location, &ruleID, &docDate, &fileName, &filePath, &d.CreatedAt, &d.UpdatedAt, &lockedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if number.Valid {
		d.Number = &number.String
	}
	if parentID.Valid {
		d.ParentDocumentID = &parentID.String
	}
	if fields.Valid {
		d.FieldsJSON = &fields.String
	}
	if workUnitID.Valid {
		d.WorkUnitID = &workUnitID.String
	}
	if location.Valid {
		d.Location = &location.String
	}
	if ruleID.Valid {
		d.RuleID = &ruleID.String
	}
	if docDate.Valid {
		d.DocumentDate = &docDate.String
	}
	if fileName.Valid {
		d.FileName = &fileName.String
	}
	if filePath.Valid {
		d.FilePath = &filePath.String
	}
	if lockedAt.Valid {
		d.LockedAt = &lockedAt.String
	}
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.String
	}
	return d, nil
}

func insertDocument(ctx context.Context, q execer, d domain.Document) error {
	_, err := q.ExecContext(ctx, `INSERT INTO documents(`+documentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Kind, d.Title, nullableStringPtr(d.Number), d.Status, d.Revision,
		nullableStringPtr(d.ParentDocumentID), nullableStringPtr(d.FieldsJSON), nullableStringPtr(d.WorkUnitID),
		nullableStringPtr(d.Location), nullableStringPtr(d.RuleID), nullableStringPtr(d.DocumentDate),
		nullableStringPtr(d.FileName), nullableStringPtr(d.FilePath), d.CreatedAt, d.UpdatedAt,
		nullableStringPtr(d.LockedAt), nullableStringPtr(d.DeletedAt))
	return err
}

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	return insertDocument(ctx, r.DB, d)
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	return insertDocument(ctx, tx, d)
}

func updateDocument(ctx context.Context, q execer, d domain.Document) error {
	res, err := q.ExecContext(ctx, `UPDATE documents SET kind=?, title=?, number=?, status=?, revision=?, parent_document_id=?, fields_json=?, work_unit_id=?, location=?, rule_id=?, document_date=?, file_name=?, file_path=?, updated_at=?, locked_at=?, deleted_at=? WHERE id=?`,
		d.Kind, d.Title, nullableStringPtr(d.Number), d.Status, d.Revision, nullableStringPtr(d.ParentDocumentID),
		nullableStringPtr(d.FieldsJSON), nullableStringPtr(d.WorkUnitID), nullableStringPtr(d.Location),
		nullableStringPtr(d.RuleID), nullableStringPtr(d.DocumentDate), nullableStringPtr(d.FileName),
		nullableStringPtr(d.FilePath), d.UpdatedAt, nullableStringPtr(d.LockedAt), nullableStringPtr(d.DeletedAt), d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDocument(ctx context.Context, d domain.Document) error {
	return updateDocument(ctx, r.DB, d)
}

func (r Repo) UpdateDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	return updateDocument(ctx, tx, d)
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

// DocumentOfKindExistsTx reports whether a non-deleted document of the given
// kind already exists for a work unit. Runs inside the resolver's transaction
// so the idempotency check and creation share one locked scope.
func (r Repo) DocumentOfKindExistsTx(ctx context.Context, tx *sql.Tx, workUnitID, kind string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE work_unit_id=? AND kind=? AND deleted_at IS NULL LIMIT 1`, workUnitID, kind).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type DocumentFilters struct {
	ProjectID  string
	WorkUnitID string
	Kind       string
	Status     string
	Limit      int
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.Document, error) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.WorkUnitID != "" {
		clauses = append(clauses, "work_unit_id=?")
		args = append(args, f.WorkUnitID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// FindSiblingDocuments returns other non-deleted documents of the same kind in
// the project that share a work unit or location, excluding the given id.
// Used by the duplicate-detection pass.
func (r Repo) FindSiblingDocuments(ctx context.Context, d domain.Document) ([]domain.Document, error) {
	clauses := []string{"project_id=?", "kind=?", "id != ?", "deleted_at IS NULL"}
	args := []any{d.ProjectID, d.Kind, d.ID}
	switch {
	case d.WorkUnitID != nil:
		clauses = append(clauses, "work_unit_id=?")
		args = append(args, *d.WorkUnitID)
	case d.Location != nil:
		clauses = append(clauses, "location=?")
		args = append(args, *d.Location)
	default:
		return nil, nil
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}

func (r Repo) InsertAttachment(ctx context.Context, a domain.Attachment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO attachments(id,document_id,category,file_name,file_path,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.DocumentID, nullable(a.Category), a.FileName, nullable(a.FilePath), a.CreatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, documentID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,document_id,category,file_name,file_path,created_at FROM attachments WHERE document_id=? ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var category, filePath sql.NullString
		if err := rows.Scan(&a.ID, &a.DocumentID, &category, &a.FileName, &filePath, &a.CreatedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			a.Category = category.String
		}
		if filePath.Valid {
			a.FilePath = filePath.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const signatureColumns = `id,document_id,signer_role,person_id,status,signed_at,comment,order_index`

func scanSignature(scan func(...any) error) (domain.Signature, error) {
	var s domain.Signature
	var personID, signedAt, comment sql.NullString
	err := scan(&s.ID, &s.DocumentID, &s.SignerRole, &personID, &s.Status, &signedAt, &comment, &s.OrderIndex)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if personID.Valid {
		s.PersonID = &personID.String
	}
	if signedAt.Valid {
		s.SignedAt = &signedAt.String
	}
	if comment.Valid {
		s.Comment = &comment.String
	}
	return s, nil
}

func (r Repo) InsertSignatureTx(ctx context.Context, tx *sql.Tx, s domain.Signature) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO signatures(`+signatureColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.DocumentID, s.SignerRole, nullableStringPtr(s.PersonID), s.Status,
		nullableStringPtr(s.SignedAt), nullableStringPtr(s.Comment), s.OrderIndex)
	return err
}

func (r Repo) GetSignature(ctx context.Context, id string) (domain.Signature, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE id=?`, id)
	return scanSignature(row.Scan)
}

func (r Repo) GetSignatureTx(ctx context.Context, tx *sql.Tx, id string) (domain.Signature, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE id=?`, id)
	return scanSignature(row.Scan)
}

func listSignatures(ctx context.Context, q execer, documentID string) ([]domain.Signature, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE document_id=? ORDER BY order_index, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signature
	for rows.Next() {
		s, err := scanSignature(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ListSignatures(ctx context.Context, documentID string) ([]domain.Signature, error) {
	return listSignatures(ctx, r.DB, documentID)
}

func (r Repo) ListSignaturesTx(ctx context.Context, tx *sql.Tx, documentID string) ([]domain.Signature, error) {
	return listSignatures(ctx, tx, documentID)
}

func (r Repo) UpdateSignatureTx(ctx context.Context, tx *sql.Tx, s domain.Signature) error {
	_, err := tx.ExecContext(ctx, `UPDATE signatures SET person_id=?, status=?, signed_at=?, comment=? WHERE id=?`,
		nullableStringPtr(s.PersonID), s.Status, nullableStringPtr(s.SignedAt), nullableStringPtr(s.Comment), s.ID)
	return err
}

func (r Repo) AssignSignaturePerson(ctx context.Context, id, personID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE signatures SET person_id=? WHERE id=?`, personID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetSignaturesTx returns every seat on a document to pending and clears
// prior signing timestamps and remarks.
func (r Repo) ResetSignaturesTx(ctx context.Context, tx *sql.Tx, documentID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE signatures SET status='pending', signed_at=NULL, comment=NULL WHERE document_id=?`, documentID)
	return err
}

// SignedSigner pairs a signer's name with the role their seat represents.
type SignedSigner struct {
	Name string
	Role string
}

// ListSignedSigners returns name+role for every signed seat on a document, in
// seat order. Seats without a resolvable person are skipped.
func (r Repo) ListSignedSigners(ctx context.Context, documentID string) ([]SignedSigner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.name, s.signer_role FROM signatures s JOIN persons p ON p.id=s.person_id
WHERE s.document_id=? AND s.status='signed' ORDER BY s.order_index, s.id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SignedSigner
	for rows.Next() {
		var s SignedSigner
		if err := rows.Scan(&s.Name, &s.Role); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListTransitions returns the audit trail for a document in append order.
func (r Repo) ListTransitions(ctx context.Context, documentID string) ([]domain.WorkflowTransition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,document_id,from_status,to_status,actor_id,comment,applied FROM workflow_transitions WHERE document_id=? ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowTransition
	for rows.Next() {
		var t domain.WorkflowTransition
		var comment sql.NullString
		var applied int
		if err := rows.Scan(&t.ID, &t.TS, &t.DocumentID, &t.FromStatus, &t.ToStatus, &t.ActorID, &comment, &applied); err != nil {
			return nil, err
		}
		if comment.Valid {
			t.Comment = &comment.String
		}
		t.Applied = applied != 0
		res = append(res, t)
	}
	return res, rows.Err()
}
