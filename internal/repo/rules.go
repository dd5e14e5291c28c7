package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"siteproof/internal/domain"
)

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func unmarshalStringSlice(in sql.NullString) ([]string, error) {
	if !in.Valid || in.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(in.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Repo) InsertRule(ctx context.Context, rule domain.MatrixRule) error {
	signers, err := marshalStringSlice(rule.SignerRoles)
	if err != nil {
		return err
	}
	attachments, err := marshalStringSlice(rule.RequiredAttachments)
	if err != nil {
		return err
	}
	signersJSON := "[]"
	if signers != nil {
		signersJSON = *signers
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO matrix_rules(id,project_id,work_category,document_kind,trigger_event,preparer_role,checker_role,signer_roles_json,required_attachments_json,linked_log_category,active,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, nullableStringPtr(rule.ProjectID), rule.WorkCategory, rule.DocumentKind, rule.TriggerEvent,
		rule.PreparerRole, nullableStringPtr(rule.CheckerRole), signersJSON, nullableStringPtr(attachments),
		nullableStringPtr(rule.LinkedLogCategory), boolToInt(rule.Active), rule.CreatedAt)
	return err
}

func scanRule(scan func(...any) error) (domain.MatrixRule, error) {
	var rule domain.MatrixRule
	var projectID, checkerRole, attachments, logCategory sql.NullString
	var signersJSON string
	var active int
	err := scan(&rule.ID, &projectID, &rule.WorkCategory, &rule.DocumentKind, &rule.TriggerEvent,
		&rule.PreparerRole, &checkerRole, &signersJSON, &attachments, &logCategory, &active, &rule.CreatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	if projectID.Valid {
		rule.ProjectID = &projectID.String
	}
	if checkerRole.Valid {
		rule.CheckerRole = &checkerRole.String
	}
	if logCategory.Valid {
		rule.LinkedLogCategory = &logCategory.String
	}
	rule.Active = active != 0
	if err := json.Unmarshal([]byte(signersJSON), &rule.SignerRoles); err != nil {
		return rule, err
	}
	req, err := unmarshalStringSlice(attachments)
	if err != nil {
		return rule, err
	}
	rule.RequiredAttachments = req
	return rule, nil
}

const ruleColumns = `id,project_id,work_category,document_kind,trigger_event,preparer_role,checker_role,signer_roles_json,required_attachments_json,linked_log_category,active,created_at`

func (r Repo) GetRule(ctx context.Context, id string) (domain.MatrixRule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM matrix_rules WHERE id=?`, id)
	return scanRule(row.Scan)
}

// RuleExists reports whether a rule with the same scope and key already exists.
func (r Repo) RuleExists(ctx context.Context, projectID *string, workCategory, documentKind, triggerEvent string) (bool, error) {
	scope := ""
	if projectID != nil {
		scope = *projectID
	}
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM matrix_rules WHERE COALESCE(project_id,'')=? AND work_category=? AND document_kind=? AND trigger_event=? LIMIT 1`,
		scope, workCategory, documentKind, triggerEvent).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindRules returns active rules matching a work category and trigger event,
// restricted to the given project's scope or global, project-scoped first so
// dedup by document kind lets an override shadow the global default.
func (r Repo) FindRules(ctx context.Context, projectID, workCategory, triggerEvent string) ([]domain.MatrixRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM matrix_rules
WHERE active=1 AND work_category=? AND trigger_event=? AND (project_id=? OR project_id IS NULL)
ORDER BY CASE WHEN project_id IS NULL THEN 1 ELSE 0 END, created_at, id`,
		workCategory, triggerEvent, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MatrixRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

type RuleFilters struct {
	ProjectID    string
	WorkCategory string
	DocumentKind string
	ActiveOnly   bool
}

func (r Repo) ListRules(ctx context.Context, f RuleFilters) ([]domain.MatrixRule, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "(project_id=? OR project_id IS NULL)")
		args = append(args, f.ProjectID)
	}
	if f.WorkCategory != "" {
		clauses = append(clauses, "work_category=?")
		args = append(args, f.WorkCategory)
	}
	if f.DocumentKind != "" {
		clauses = append(clauses, "document_kind=?")
		args = append(args, f.DocumentKind)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	query := `SELECT ` + ruleColumns + ` FROM matrix_rules WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY work_category, document_kind, CASE WHEN project_id IS NULL THEN 1 ELSE 0 END`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MatrixRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func (r Repo) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE matrix_rules SET active=? WHERE id=?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
