package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"siteproof/internal/audit"
	"siteproof/internal/blob"
	"siteproof/internal/config"
	"siteproof/internal/domain"
	"siteproof/internal/repo"
)

// Engine owns the compliance core: requirement resolution, the document
// lifecycle, validation and package assembly. All state mutation goes through
// it; route handlers and the CLI only call engine methods.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Blob   blob.Store
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, store blob.Store) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Blob:   store,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// auditWriter binds the audit writer to the engine clock, so an injected
// clock stamps transition rows the same as document rows.
func (e Engine) auditWriter() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// CreatePerson registers a person in the identity directory.
func (e Engine) CreatePerson(ctx context.Context, p domain.Person) (domain.Person, error) {
	if p.Name == "" {
		return p, errors.New("name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = e.nowString()
	if err := e.Repo.InsertPerson(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// AssignRole binds a role label to a person within a project. A role holds at
// most one person per project.
func (e Engine) AssignRole(ctx context.Context, projectID, role, personID string) (domain.RoleAssignment, error) {
	if projectID == "" || role == "" || personID == "" {
		return domain.RoleAssignment{}, errors.New("project, role and person are required")
	}
	if _, err := e.Repo.GetPerson(ctx, personID); err != nil {
		return domain.RoleAssignment{}, err
	}
	if _, err := e.Repo.GetRoleAssignment(ctx, projectID, role); err == nil {
		return domain.RoleAssignment{}, DuplicateAssignmentError{ProjectID: projectID, Role: role}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.RoleAssignment{}, err
	}
	a := domain.RoleAssignment{
		ProjectID: projectID,
		Role:      role,
		PersonID:  personID,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertRoleAssignment(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// CreateWorkUnit registers a unit of construction work.
func (e Engine) CreateWorkUnit(ctx context.Context, w domain.WorkUnit) (domain.WorkUnit, error) {
	if w.ProjectID == "" || w.Category == "" || w.Title == "" {
		return w, errors.New("project, category and title are required")
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	w.CreatedAt = e.nowString()
	if err := e.Repo.InsertWorkUnit(ctx, w); err != nil {
		return w, err
	}
	return w, nil
}

func (e Engine) AddMaterial(ctx context.Context, m domain.Material) (domain.Material, error) {
	if m.WorkUnitID == "" || m.Name == "" {
		return m, errors.New("work unit and name are required")
	}
	if _, err := e.workUnit(ctx, m.WorkUnitID); err != nil {
		return m, err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = e.nowString()
	if err := e.Repo.InsertMaterial(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

func (e Engine) AddCertificate(ctx context.Context, c domain.Certificate) (domain.Certificate, error) {
	if c.MaterialID == "" {
		return c, errors.New("material is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = e.nowString()
	if err := e.Repo.InsertCertificate(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

func (e Engine) AddAttachment(ctx context.Context, a domain.Attachment) (domain.Attachment, error) {
	if a.DocumentID == "" || a.FileName == "" {
		return a, errors.New("document and file name are required")
	}
	d, err := e.Repo.GetDocument(ctx, a.DocumentID)
	if err != nil {
		return a, err
	}
	if d.DeletedAt != nil {
		return a, repo.ErrNotFound
	}
	if d.LockedAt != nil {
		return a, IllegalTransitionError{From: d.Status, To: d.Status, Reason: "document is locked"}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = e.nowString()
	if err := e.Repo.InsertAttachment(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// AddRule registers a matrix rule. Within one scope the (work category,
// document kind, trigger event) key must be unique.
func (e Engine) AddRule(ctx context.Context, rule domain.MatrixRule) (domain.MatrixRule, error) {
	if rule.WorkCategory == "" || rule.DocumentKind == "" || rule.TriggerEvent == "" {
		return rule, errors.New("work category, document kind and trigger event are required")
	}
	if rule.PreparerRole == "" {
		return rule, errors.New("preparer role is required")
	}
	if len(rule.SignerRoles) == 0 {
		return rule, errors.New("signer roles must not be empty")
	}
	exists, err := e.Repo.RuleExists(ctx, rule.ProjectID, rule.WorkCategory, rule.DocumentKind, rule.TriggerEvent)
	if err != nil {
		return rule, err
	}
	if exists {
		return rule, DuplicateRuleError{
			WorkCategory: rule.WorkCategory,
			DocumentKind: rule.DocumentKind,
			TriggerEvent: rule.TriggerEvent,
		}
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.Active = true
	rule.CreatedAt = e.nowString()
	if err := e.Repo.InsertRule(ctx, rule); err != nil {
		return rule, err
	}
	return rule, nil
}

// SetRuleActive toggles a rule. Rules referenced by documents stay immutable
// otherwise; activation is the only administrative switch.
func (e Engine) SetRuleActive(ctx context.Context, id string, active bool) error {
	return e.Repo.SetRuleActive(ctx, id, active)
}

// SeedMatrix inserts the config catalog's global rules, skipping keys that
// already exist. Returns the number of rules created.
func (e Engine) SeedMatrix(ctx context.Context) (int, error) {
	if e.Config == nil {
		return 0, errors.New("config not loaded")
	}
	created := 0
	for _, spec := range e.Config.Matrix {
		exists, err := e.Repo.RuleExists(ctx, nil, spec.WorkCategory, spec.DocumentKind, spec.TriggerEvent)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		rule := domain.MatrixRule{
			ID:                  uuid.New().String(),
			WorkCategory:        spec.WorkCategory,
			DocumentKind:        spec.DocumentKind,
			TriggerEvent:        spec.TriggerEvent,
			PreparerRole:        spec.PreparerRole,
			SignerRoles:         spec.SignerRoles,
			RequiredAttachments: spec.RequiredAttachments,
			Active:              true,
			CreatedAt:           e.nowString(),
		}
		if spec.CheckerRole != "" {
			rule.CheckerRole = &spec.CheckerRole
		}
		if spec.LinkedLogCategory != "" {
			rule.LinkedLogCategory = &spec.LinkedLogCategory
		}
		if err := e.Repo.InsertRule(ctx, rule); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// workUnit fetches a work unit, treating soft-deleted as missing.
func (e Engine) workUnit(ctx context.Context, id string) (domain.WorkUnit, error) {
	w, err := e.Repo.GetWorkUnit(ctx, id)
	if err != nil {
		return w, err
	}
	if w.DeletedAt != nil {
		return w, repo.ErrNotFound
	}
	return w, nil
}

// document fetches a document, treating soft-deleted as missing.
func (e Engine) document(ctx context.Context, id string) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, id)
	if err != nil {
		return d, err
	}
	if d.DeletedAt != nil {
		return d, repo.ErrNotFound
	}
	return d, nil
}

// SoftDeleteDocument tombstones a document. Locked documents cannot be
// deleted; package history must stay resolvable.
func (e Engine) SoftDeleteDocument(ctx context.Context, id, actor string) error {
	d, err := e.document(ctx, id)
	if err != nil {
		return err
	}
	if d.LockedAt != nil {
		return IllegalTransitionError{From: d.Status, To: d.Status, Reason: "document is locked"}
	}
	now := e.nowString()
	d.DeletedAt = &now
	d.UpdatedAt = now
	return e.Repo.UpdateDocument(ctx, d)
}

// UpdateDocumentFields replaces the opaque fields payload of an unlocked
// document. The payload must be valid JSON.
func (e Engine) UpdateDocumentFields(ctx context.Context, id, fieldsJSON, actor string) (domain.Document, error) {
	d, err := e.document(ctx, id)
	if err != nil {
		return d, err
	}
	if d.LockedAt != nil {
		return d, IllegalTransitionError{From: d.Status, To: d.Status, Reason: "document is locked"}
	}
	if err := validateJSON(fieldsJSON); err != nil {
		return d, fmt.Errorf("fields json: %w", err)
	}
	d.FieldsJSON = &fieldsJSON
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateDocument(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}
