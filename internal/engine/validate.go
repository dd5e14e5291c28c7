package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"siteproof/internal/domain"
	"siteproof/internal/repo"
)

// ValidationResult is the full finding list of one validation pass.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02.01.2006"}

func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Validate runs every completeness check on a document and unions the
// findings. All checks run regardless of earlier failures so the caller sees
// the complete problem list in one pass. Read-only: a pure function of the
// document, its attachments, the linked work unit's materials and the other
// documents in the project.
func (e Engine) Validate(ctx context.Context, documentID string) (ValidationResult, error) {
	var res ValidationResult
	d, err := e.document(ctx, documentID)
	if err != nil {
		return res, err
	}
	fields := map[string]any{}
	if d.FieldsJSON != nil && *d.FieldsJSON != "" {
		if err := json.Unmarshal([]byte(*d.FieldsJSON), &fields); err != nil {
			res.Errors = append(res.Errors, "fields payload is not valid JSON")
			fields = map[string]any{}
		}
	}
	attachments, err := e.Repo.ListAttachments(ctx, d.ID)
	if err != nil {
		return res, err
	}
	var workUnit *domain.WorkUnit
	if d.WorkUnitID != nil {
		if wu, err := e.Repo.GetWorkUnit(ctx, *d.WorkUnitID); err == nil && wu.DeletedAt == nil {
			workUnit = &wu
		} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
	}

	e.checkRequiredFields(d, fields, &res)
	if err := e.checkRequiredAttachments(ctx, d, workUnit, attachments, &res); err != nil {
		return res, err
	}
	e.checkDates(d, fields, &res)
	if err := e.checkCrossReferences(ctx, d, fields, &res); err != nil {
		return res, err
	}
	if err := e.checkMaterialCertificates(ctx, d, workUnit, &res); err != nil {
		return res, err
	}
	if err := e.warnDuplicates(ctx, d, &res); err != nil {
		return res, err
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}

// CanSubmit reports whether a document may leave review for signature.
func (e Engine) CanSubmit(ctx context.Context, documentID string) (bool, error) {
	res, err := e.Validate(ctx, documentID)
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}

func fieldEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func (e Engine) checkRequiredFields(d domain.Document, fields map[string]any, res *ValidationResult) {
	if e.Config == nil {
		return
	}
	spec, ok := e.Config.Kinds[d.Kind]
	if !ok {
		return
	}
	for _, name := range spec.RequiredFields {
		if fieldEmpty(fields[name]) {
			res.Errors = append(res.Errors, fmt.Sprintf("required field %s is missing", name))
		}
	}
}

// ruleForDocument resolves the matrix rule governing a document: the rule it
// was created from when recorded, otherwise the first active rule matching
// its kind and the work unit's category.
func (e Engine) ruleForDocument(ctx context.Context, d domain.Document, workUnit *domain.WorkUnit) (*domain.MatrixRule, error) {
	if d.RuleID != nil {
		rule, err := e.Repo.GetRule(ctx, *d.RuleID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &rule, nil
	}
	if workUnit == nil {
		return nil, nil
	}
	rules, err := e.Repo.ListRules(ctx, repo.RuleFilters{
		ProjectID:    d.ProjectID,
		WorkCategory: workUnit.Category,
		DocumentKind: d.Kind,
		ActiveOnly:   true,
	})
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return &rules[0], nil
}

// attachmentCategoryFor maps a requirement label to an attachment category by
// keyword, checking categories in stable order.
func (e Engine) attachmentCategoryFor(label string) string {
	if e.Config == nil {
		return ""
	}
	lower := strings.ToLower(label)
	categories := make([]string, 0, len(e.Config.Validation.AttachmentCategories))
	for cat := range e.Config.Validation.AttachmentCategories {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		for _, kw := range e.Config.Validation.AttachmentCategories[cat] {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return cat
			}
		}
	}
	return ""
}

func (e Engine) labelIsSoft(label string) bool {
	if e.Config == nil {
		return false
	}
	lower := strings.ToLower(label)
	for _, marker := range e.Config.Validation.WarningMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// checkRequiredAttachments verifies each required-attachment label of the
// governing rule is satisfied: first by category keyword, then by substring
// match on attachment file names using label words longer than three
// characters. The heuristic is deliberately fuzzy and preserved as policy.
func (e Engine) checkRequiredAttachments(ctx context.Context, d domain.Document, workUnit *domain.WorkUnit, attachments []domain.Attachment, res *ValidationResult) error {
	rule, err := e.ruleForDocument(ctx, d, workUnit)
	if err != nil {
		return err
	}
	if rule == nil {
		return nil
	}
	for _, label := range rule.RequiredAttachments {
		found := false
		if cat := e.attachmentCategoryFor(label); cat != "" {
			for _, a := range attachments {
				if a.Category == cat {
					found = true
					break
				}
			}
		}
		if !found {
			for _, word := range strings.Fields(strings.ToLower(label)) {
				if len(word) <= 3 {
					continue
				}
				for _, a := range attachments {
					if strings.Contains(strings.ToLower(a.FileName), word) {
						found = true
						break
					}
				}
				if found {
					break
				}
			}
		}
		if !found {
			if e.labelIsSoft(label) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("attachment %q not found", label))
			} else {
				res.Errors = append(res.Errors, fmt.Sprintf("required attachment %q is missing", label))
			}
		}
	}
	return nil
}

// checkDates verifies the document date and every date-named field are not in
// the future (inclusive through the end of the current day), and that a
// start-like date does not come after an end-like one.
func (e Engine) checkDates(d domain.Document, fields map[string]any, res *ValidationResult) {
	now := e.now().UTC()
	endOfToday := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
	if d.DocumentDate != nil {
		if t, ok := parseDate(*d.DocumentDate); ok && t.After(endOfToday) {
			res.Errors = append(res.Errors, "document date is in the future")
		}
	}
	var start, end *time.Time
	var startName, endName string
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.Contains(strings.ToLower(name), "date") {
			continue
		}
		s, ok := fields[name].(string)
		if !ok || s == "" {
			continue
		}
		t, ok := parseDate(s)
		if !ok {
			continue
		}
		if t.After(endOfToday) {
			res.Errors = append(res.Errors, fmt.Sprintf("field %s is in the future", name))
		}
		lower := strings.ToLower(name)
		if start == nil && strings.Contains(lower, "start") {
			tt := t
			start, startName = &tt, name
		}
		if end == nil && (strings.Contains(lower, "end") || strings.Contains(lower, "finish")) {
			tt := t
			end, endName = &tt, name
		}
	}
	if start != nil && end != nil && start.After(*end) {
		res.Errors = append(res.Errors, fmt.Sprintf("%s is after %s", startName, endName))
	}
}

// checkCrossReferences resolves fields that reference other documents and, for
// the hidden-work inspection act, requires the governing project documentation
// reference.
func (e Engine) checkCrossReferences(ctx context.Context, d domain.Document, fields map[string]any, res *ValidationResult) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.Contains(strings.ToLower(name), "document_id") {
			continue
		}
		id, ok := fields[name].(string)
		if !ok || id == "" {
			continue
		}
		ref, err := e.Repo.GetDocument(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				res.Errors = append(res.Errors, fmt.Sprintf("field %s references missing document %s", name, id))
				continue
			}
			return err
		}
		if ref.DeletedAt != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("field %s references deleted document %s", name, id))
		}
	}
	if e.Config != nil {
		if spec, ok := e.Config.Kinds[d.Kind]; ok && spec.HiddenWork {
			if fieldEmpty(fields["project_docs_ref"]) {
				res.Errors = append(res.Errors, "hidden-work act must reference governing project documentation")
			}
		}
	}
	return nil
}

// checkMaterialCertificates requires, for kinds that certify physical work,
// at least one certificate per material consumed by the linked work unit.
// Zero materials is only a warning; the work may be legitimately material-free.
func (e Engine) checkMaterialCertificates(ctx context.Context, d domain.Document, workUnit *domain.WorkUnit, res *ValidationResult) error {
	if e.Config == nil {
		return nil
	}
	spec, ok := e.Config.Kinds[d.Kind]
	if !ok || !spec.Physical {
		return nil
	}
	if workUnit == nil {
		res.Warnings = append(res.Warnings, "no work unit linked; material certificates not checked")
		return nil
	}
	materials, err := e.Repo.ListMaterials(ctx, workUnit.ID)
	if err != nil {
		return err
	}
	if len(materials) == 0 {
		res.Warnings = append(res.Warnings, "work unit has no materials on record")
		return nil
	}
	counts, err := e.Repo.CountCertificates(ctx, workUnit.ID)
	if err != nil {
		return err
	}
	for _, m := range materials {
		if counts[m.ID] == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("material %s has no certificate on file", m.Name))
		}
	}
	return nil
}

// warnDuplicates flags, as a warning only, other documents of the same kind
// for the same work unit or location that are past draft. A second opinion
// for the author, not a hard rule.
func (e Engine) warnDuplicates(ctx context.Context, d domain.Document, res *ValidationResult) error {
	siblings, err := e.Repo.FindSiblingDocuments(ctx, d)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.Status == domain.StatusDraft || s.Status == domain.StatusNeedsRevision {
			continue
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("document %s of the same kind already exists with status %s", s.ID, s.Status))
	}
	return nil
}
