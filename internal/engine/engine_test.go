package engine_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"siteproof/internal/blob"
	"siteproof/internal/config"
	"siteproof/internal/db"
	"siteproof/internal/domain"
	"siteproof/internal/engine"
	"siteproof/internal/migrate"
	"siteproof/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Blob   *blob.DirStore
	Ctx    context.Context

	Producer   domain.Person
	Supervisor domain.Person
	WorkUnit   domain.WorkUnit
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := blob.NewDirStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg, store)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.SeedMatrix(ctx); err != nil {
		t.Fatalf("seed matrix: %v", err)
	}
	producer, err := eng.CreatePerson(ctx, domain.Person{Name: "P. Voss", Organization: "BuildCo", Position: "site manager"})
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	supervisor, err := eng.CreatePerson(ctx, domain.Person{Name: "A. Reim", Organization: "Client", Position: "supervisor"})
	if err != nil {
		t.Fatalf("create supervisor: %v", err)
	}
	if _, err := eng.AssignRole(ctx, "proj-1", "producer", producer.ID); err != nil {
		t.Fatalf("assign producer: %v", err)
	}
	if _, err := eng.AssignRole(ctx, "proj-1", "supervisor", supervisor.ID); err != nil {
		t.Fatalf("assign supervisor: %v", err)
	}
	wu, err := eng.CreateWorkUnit(ctx, domain.WorkUnit{
		ProjectID: "proj-1",
		Category:  "concrete",
		Title:     "Foundation slab, section A",
		Location:  "axis 1-4",
	})
	if err != nil {
		t.Fatalf("create work unit: %v", err)
	}
	return testEnv{
		Engine:     eng,
		Blob:       store,
		Ctx:        ctx,
		Producer:   producer,
		Supervisor: supervisor,
		WorkUnit:   wu,
	}
}

// trigger applies "work completed" and returns the created hidden-work act.
func (env testEnv) trigger(t *testing.T) domain.Document {
	t.Helper()
	res, err := env.Engine.ApplyTrigger(env.Ctx, env.WorkUnit.ID, "work completed", "tester")
	if err != nil {
		t.Fatalf("apply trigger: %v", err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("expected 1 created document, got %d", len(res.Created))
	}
	return res.Created[0]
}

// makeValid fills the document so every validation check passes.
func (env testEnv) makeValid(t *testing.T, docID string) {
	t.Helper()
	fields := `{"act_number":"HWA-1","work_description":"Concrete pour","work_start_date":"2024-02-01","work_end_date":"2024-02-10","project_docs_ref":"PD-401.1 sheet 4","disposition":"continue"}`
	if _, err := env.Engine.UpdateDocumentFields(env.Ctx, docID, fields, "tester"); err != nil {
		t.Fatalf("update fields: %v", err)
	}
	if _, err := env.Engine.AddAttachment(env.Ctx, domain.Attachment{
		DocumentID: docID, Category: "certificate", FileName: "cement-cert.pdf",
	}); err != nil {
		t.Fatalf("attach certificate: %v", err)
	}
	if _, err := env.Engine.AddAttachment(env.Ctx, domain.Attachment{
		DocumentID: docID, Category: "diagram", FileName: "as-built.pdf",
	}); err != nil {
		t.Fatalf("attach diagram: %v", err)
	}
	m, err := env.Engine.AddMaterial(env.Ctx, domain.Material{WorkUnitID: env.WorkUnit.ID, Name: "cement M400", Quantity: "12 t"})
	if err != nil {
		t.Fatalf("add material: %v", err)
	}
	if _, err := env.Engine.AddCertificate(env.Ctx, domain.Certificate{MaterialID: m.ID, Number: "C-77"}); err != nil {
		t.Fatalf("add certificate: %v", err)
	}
}

func TestApplyTriggerCreatesDocumentWithSeats(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	if doc.Status != domain.StatusDraft || doc.Revision != 1 {
		t.Fatalf("expected draft rev 1, got %s rev %d", doc.Status, doc.Revision)
	}
	if doc.Kind != "hidden_work_act" {
		t.Fatalf("expected hidden_work_act, got %s", doc.Kind)
	}
	if doc.WorkUnitID == nil || *doc.WorkUnitID != env.WorkUnit.ID {
		t.Fatalf("document not linked to work unit")
	}
	seats, err := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 2 {
		t.Fatalf("expected 2 seats, got %d", len(seats))
	}
	if seats[0].SignerRole != "producer" || seats[1].SignerRole != "supervisor" {
		t.Fatalf("seat order wrong: %s, %s", seats[0].SignerRole, seats[1].SignerRole)
	}
	for _, s := range seats {
		if s.Status != domain.SignaturePending || s.PersonID == nil {
			t.Fatalf("seat %s not pending with assigned person", s.SignerRole)
		}
	}
	// the creation is audited
	trs, err := env.Engine.Repo.ListTransitions(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 1 || trs[0].ToStatus != domain.StatusDraft || !trs[0].Applied {
		t.Fatalf("expected one applied creation transition, got %+v", trs)
	}
}

func TestApplyTriggerIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.trigger(t)
	res, err := env.Engine.ApplyTrigger(env.Ctx, env.WorkUnit.ID, "work completed", "tester")
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if len(res.Created) != 0 {
		t.Fatalf("expected no new documents, got %d", len(res.Created))
	}
	if len(res.SkippedKinds) != 1 || res.SkippedKinds[0] != "hidden_work_act" {
		t.Fatalf("expected hidden_work_act skipped, got %v", res.SkippedKinds)
	}
}

func TestApplyTriggerRecordsUnassignedRoles(t *testing.T) {
	env := newTestEnv(t)
	wu, err := env.Engine.CreateWorkUnit(env.Ctx, domain.WorkUnit{
		ProjectID: "proj-2", Category: "concrete", Title: "Slab B",
	})
	if err != nil {
		t.Fatal(err)
	}
	// proj-2 has no role assignments at all
	res, err := env.Engine.ApplyTrigger(env.Ctx, wu.ID, "work completed", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("expected document despite unassigned roles, got %d", len(res.Created))
	}
	if len(res.UnassignedRoles) != 2 {
		t.Fatalf("expected 2 role gaps, got %v", res.UnassignedRoles)
	}
	seats, err := env.Engine.Repo.ListSignatures(env.Ctx, res.Created[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range seats {
		if s.PersonID != nil {
			t.Fatalf("seat %s should have no person", s.SignerRole)
		}
	}
}

func TestAssignSignatureFillsRoleGap(t *testing.T) {
	env := newTestEnv(t)
	wu, err := env.Engine.CreateWorkUnit(env.Ctx, domain.WorkUnit{
		ProjectID: "proj-2", Category: "concrete", Title: "Slab C",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ApplyTrigger(env.Ctx, wu.ID, "work completed", "tester")
	if err != nil || len(res.Created) != 1 {
		t.Fatalf("trigger: %v", err)
	}
	seats, err := env.Engine.Repo.ListSignatures(env.Ctx, res.Created[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	seat := seats[0]

	// an empty seat cannot be signed
	if _, err := env.Engine.Sign(env.Ctx, seat.ID, env.Producer.ID, ""); err == nil {
		t.Fatalf("expected sign on unassigned seat to fail")
	}

	if _, err := env.Engine.AssignSignature(env.Ctx, seat.ID, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown person to be rejected, got %v", err)
	}
	assigned, err := env.Engine.AssignSignature(env.Ctx, seat.ID, env.Producer.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.PersonID == nil || *assigned.PersonID != env.Producer.ID {
		t.Fatalf("expected seat bound to producer, got %+v", assigned)
	}
	got, err := env.Engine.Repo.GetSignature(env.Ctx, seat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PersonID == nil || *got.PersonID != env.Producer.ID {
		t.Fatalf("assignment not persisted: %+v", got)
	}
}

func TestProjectRuleShadowsGlobal(t *testing.T) {
	env := newTestEnv(t)
	projectID := "proj-1"
	if _, err := env.Engine.AddRule(env.Ctx, domain.MatrixRule{
		ProjectID:    &projectID,
		WorkCategory: "concrete",
		DocumentKind: "hidden_work_act",
		TriggerEvent: "work completed",
		PreparerRole: "producer",
		SignerRoles:  []string{"producer"},
	}); err != nil {
		t.Fatalf("add project rule: %v", err)
	}
	rules, err := env.Engine.ResolveRules(env.Ctx, env.WorkUnit, "work completed")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule after shadowing, got %d", len(rules))
	}
	if rules[0].ProjectID == nil {
		t.Fatalf("expected the project-scoped rule to win")
	}
	doc := env.trigger(t)
	seats, err := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 1 || seats[0].SignerRole != "producer" {
		t.Fatalf("expected single producer seat from project rule, got %+v", seats)
	}
}

func TestDuplicateRuleRejected(t *testing.T) {
	env := newTestEnv(t)
	rule := domain.MatrixRule{
		WorkCategory: "masonry",
		DocumentKind: "inspection_act",
		TriggerEvent: "work completed",
		PreparerRole: "producer",
		SignerRoles:  []string{"producer"},
	}
	if _, err := env.Engine.AddRule(env.Ctx, rule); err != nil {
		t.Fatalf("first rule: %v", err)
	}
	_, err := env.Engine.AddRule(env.Ctx, rule)
	var dre engine.DuplicateRuleError
	if !errors.As(err, &dre) {
		t.Fatalf("expected DuplicateRuleError, got %v", err)
	}
}

func TestDuplicateRoleAssignmentRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AssignRole(env.Ctx, "proj-1", "producer", env.Supervisor.ID)
	var dae engine.DuplicateAssignmentError
	if !errors.As(err, &dae) {
		t.Fatalf("expected DuplicateAssignmentError, got %v", err)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	env.makeValid(t, doc.ID)

	d, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", "")
	if err != nil || d.Status != domain.StatusInReview {
		t.Fatalf("to in_review: %v", err)
	}
	d, err = env.Engine.Transition(env.Ctx, doc.ID, domain.StatusPendingSignature, "tester", "")
	if err != nil || d.Status != domain.StatusPendingSignature {
		t.Fatalf("to pending_signature: %v", err)
	}

	seats, err := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Sign(env.Ctx, seats[0].ID, env.Producer.ID, "ok"); err != nil {
		t.Fatalf("producer sign: %v", err)
	}
	d, err = env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil || d.Status != domain.StatusPendingSignature {
		t.Fatalf("document moved early: %s", d.Status)
	}
	if _, err := env.Engine.Sign(env.Ctx, seats[1].ID, env.Supervisor.ID, ""); err != nil {
		t.Fatalf("supervisor sign: %v", err)
	}
	d, err = env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusSigned {
		t.Fatalf("expected signed after last seat, got %s", d.Status)
	}
	if d.LockedAt == nil {
		t.Fatalf("signed document must be locked")
	}
	// locked documents refuse new evidence and edits
	if _, err := env.Engine.AddAttachment(env.Ctx, domain.Attachment{DocumentID: doc.ID, FileName: "late.pdf"}); err == nil {
		t.Fatalf("expected attachment on locked document to fail")
	}
	if _, err := env.Engine.UpdateDocumentFields(env.Ctx, doc.ID, `{}`, "tester"); err == nil {
		t.Fatalf("expected field edit on locked document to fail")
	}
}

func TestSignWrongPersonRejected(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	env.makeValid(t, doc.ID)
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusPendingSignature, "tester", ""); err != nil {
		t.Fatal(err)
	}
	seats, _ := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	if _, err := env.Engine.Sign(env.Ctx, seats[0].ID, env.Supervisor.ID, ""); err == nil {
		t.Fatalf("expected sign by wrong person to fail")
	}
}

func TestRejectResetsAllSeats(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	env.makeValid(t, doc.ID)
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusPendingSignature, "tester", ""); err != nil {
		t.Fatal(err)
	}
	seats, _ := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	if _, err := env.Engine.Sign(env.Ctx, seats[0].ID, env.Producer.ID, ""); err != nil {
		t.Fatal(err)
	}
	sig, err := env.Engine.Reject(env.Ctx, seats[1].ID, env.Supervisor.ID, "wrong axis reference")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if sig.Status != domain.SignaturePending {
		t.Fatalf("rejected seat should report pending after reset, got %s", sig.Status)
	}
	d, err := env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusNeedsRevision {
		t.Fatalf("expected needs_revision, got %s", d.Status)
	}
	seats, _ = env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	for _, s := range seats {
		if s.Status != domain.SignaturePending || s.SignedAt != nil {
			t.Fatalf("seat %s not reset: %+v", s.SignerRole, s)
		}
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	env.makeValid(t, doc.ID)
	_, _ = env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", "")
	_, _ = env.Engine.Transition(env.Ctx, doc.ID, domain.StatusPendingSignature, "tester", "")
	seats, _ := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	if _, err := env.Engine.Reject(env.Ctx, seats[0].ID, env.Producer.ID, ""); err == nil {
		t.Fatalf("expected missing reason to fail")
	}
}

func TestNeedsRevisionRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusNeedsRevision, "tester", "")
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusNeedsRevision, "tester", "fix the dates"); err != nil {
		t.Fatalf("with comment: %v", err)
	}
}

func TestIllegalTransitionIsAuditedButNotApplied(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	_, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusSigned, "tester", "")
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	d, err := env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil || d.Status != domain.StatusDraft {
		t.Fatalf("document changed by rejected transition: %s", d.Status)
	}
	trs, err := env.Engine.Repo.ListTransitions(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	last := trs[len(trs)-1]
	if last.Applied || last.ToStatus != domain.StatusSigned {
		t.Fatalf("expected rejected attempt on record, got %+v", last)
	}
}

func TestValidationGatesSignature(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	// no fields, no attachments, no certificates
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusPendingSignature, "tester", "")
	var vfe engine.ValidationFailedError
	if !errors.As(err, &vfe) {
		t.Fatalf("expected ValidationFailedError, got %v", err)
	}
	if len(vfe.Errors) == 0 {
		t.Fatalf("expected findings in the error")
	}
	d, _ := env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if d.Status != domain.StatusInReview {
		t.Fatalf("document should stay in review, got %s", d.Status)
	}
	trs, _ := env.Engine.Repo.ListTransitions(env.Ctx, doc.ID)
	last := trs[len(trs)-1]
	if last.Applied {
		t.Fatalf("validation failure should be recorded as not applied")
	}
}

func TestValidateReportsEverything(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	// future end date, missing act_number, start after end
	fields := `{"work_description":"pour","work_start_date":"2024-02-20","work_end_date":"2024-02-10","project_docs_ref":"PD-1","disposition":"continue"}`
	if _, err := env.Engine.UpdateDocumentFields(env.Ctx, doc.ID, fields, "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	var missingField, badOrder, missingAttachment bool
	for _, msg := range res.Errors {
		switch {
		case msg == "required field act_number is missing":
			missingField = true
		case msg == "work_start_date is after work_end_date":
			badOrder = true
		case msg == `required attachment "material certificate" is missing`:
			missingAttachment = true
		}
	}
	if !missingField || !badOrder || !missingAttachment {
		t.Fatalf("expected all checks to report, got %v", res.Errors)
	}
}

func TestValidateMaterialCertificates(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	// no materials at all: warning only
	res, err := env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	foundWarning := false
	for _, w := range res.Warnings {
		if w == "work unit has no materials on record" {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Fatalf("expected material warning, got %v", res.Warnings)
	}
	// a material without certificate: hard error
	m, err := env.Engine.AddMaterial(env.Ctx, domain.Material{WorkUnitID: env.WorkUnit.ID, Name: "rebar A500"})
	if err != nil {
		t.Fatal(err)
	}
	res, err = env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, msg := range res.Errors {
		if msg == "material rebar A500 has no certificate on file" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected certificate error, got %v", res.Errors)
	}
	if _, err := env.Engine.AddCertificate(env.Ctx, domain.Certificate{MaterialID: m.ID, Number: "C-1"}); err != nil {
		t.Fatal(err)
	}
	res, err = env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range res.Errors {
		if msg == "material rebar A500 has no certificate on file" {
			t.Fatalf("certificate error should clear: %v", res.Errors)
		}
	}
}

func TestValidateWarningMarkerDowngrades(t *testing.T) {
	env := newTestEnv(t)
	wu, err := env.Engine.CreateWorkUnit(env.Ctx, domain.WorkUnit{
		ProjectID: "proj-1", Category: "earthworks", Title: "Trench 3",
	})
	if err != nil {
		t.Fatal(err)
	}
	// earthworks rule requires "survey diagram" and "photo if applicable"
	res, err := env.Engine.ApplyTrigger(env.Ctx, wu.ID, "work completed", "tester")
	if err != nil || len(res.Created) != 1 {
		t.Fatalf("trigger: %v", err)
	}
	v, err := env.Engine.Validate(env.Ctx, res.Created[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	var surveyError, photoWarning bool
	for _, msg := range v.Errors {
		if msg == `required attachment "survey diagram" is missing` {
			surveyError = true
		}
		if msg == `required attachment "photo if applicable" is missing` {
			t.Fatalf("photo requirement should be a warning, got error")
		}
	}
	for _, msg := range v.Warnings {
		if msg == `attachment "photo if applicable" not found` {
			photoWarning = true
		}
	}
	if !surveyError || !photoWarning {
		t.Fatalf("expected survey error and photo warning, got %v / %v", v.Errors, v.Warnings)
	}
}

func TestValidateIsPure(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	before, err := env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Errors) != len(second.Errors) || len(first.Warnings) != len(second.Warnings) {
		t.Fatalf("validation not repeatable: %v vs %v", first, second)
	}
	after, err := env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if before.Status != after.Status || before.UpdatedAt != after.UpdatedAt {
		t.Fatalf("validation mutated the document")
	}
	trs, _ := env.Engine.Repo.ListTransitions(env.Ctx, doc.ID)
	if len(trs) != 1 {
		t.Fatalf("validation must not write transitions, got %d", len(trs))
	}
}

func TestBulkTransitionPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	outcomes := env.Engine.BulkTransition(env.Ctx, []string{doc.ID, "no-such-doc"}, domain.StatusInReview, "tester", "")
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Error != "" || outcomes[0].Document == nil || outcomes[0].Document.Status != domain.StatusInReview {
		t.Fatalf("first document should transition: %+v", outcomes[0])
	}
	if outcomes[1].Error == "" {
		t.Fatalf("second outcome should fail")
	}
}

func TestSupersedeCreatesNextRevision(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	env.makeValid(t, doc.ID)
	_, _ = env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", "")
	_, _ = env.Engine.Transition(env.Ctx, doc.ID, domain.StatusPendingSignature, "tester", "")
	seats, _ := env.Engine.Repo.ListSignatures(env.Ctx, doc.ID)
	_, _ = env.Engine.Sign(env.Ctx, seats[0].ID, env.Producer.ID, "")
	_, _ = env.Engine.Sign(env.Ctx, seats[1].ID, env.Supervisor.ID, "")

	next, err := env.Engine.Supersede(env.Ctx, doc.ID, "tester")
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if next.Revision != 2 || next.Status != domain.StatusDraft || next.LockedAt != nil {
		t.Fatalf("unexpected revision: %+v", next)
	}
	if next.ParentDocumentID == nil || *next.ParentDocumentID != doc.ID {
		t.Fatalf("parent link missing")
	}
	nextSeats, err := env.Engine.Repo.ListSignatures(env.Ctx, next.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(nextSeats) != 2 {
		t.Fatalf("expected copied seats, got %d", len(nextSeats))
	}
	for _, s := range nextSeats {
		if s.Status != domain.SignaturePending || s.SignedAt != nil {
			t.Fatalf("copied seat should be pending: %+v", s)
		}
	}
}

func TestSoftDeletedDocumentIsGone(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	if err := env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Validate(env.Ctx, doc.ID); err == nil {
		t.Fatalf("expected not found")
	}
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err == nil {
		t.Fatalf("expected transition on deleted document to fail")
	}
	// the kind slot opens again for the trigger
	res, err := env.Engine.ApplyTrigger(env.Ctx, env.WorkUnit.ID, "work completed", "tester")
	if err != nil || len(res.Created) != 1 {
		t.Fatalf("expected recreation after delete: %v", err)
	}
}

func TestAllowedTransitions(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	next, err := env.Engine.AllowedTransitions(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 1 || next[0] != domain.StatusInReview {
		t.Fatalf("draft should allow only in_review, got %v", next)
	}
}

func TestValidateCrossReferences(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	wu, err := env.Engine.CreateWorkUnit(env.Ctx, domain.WorkUnit{
		ProjectID: "proj-1", Category: "concrete", Title: "Foundation slab, section Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ApplyTrigger(env.Ctx, wu.ID, "work completed", "tester")
	if err != nil || len(res.Created) != 1 {
		t.Fatalf("trigger: %v", err)
	}
	deleted := res.Created[0]
	if err := env.Engine.SoftDeleteDocument(env.Ctx, deleted.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	fields := fmt.Sprintf(`{"basis_document_id":"no-such-doc","survey_document_id":%q}`, deleted.ID)
	if _, err := env.Engine.UpdateDocumentFields(env.Ctx, doc.ID, fields, "tester"); err != nil {
		t.Fatal(err)
	}
	v, err := env.Engine.Validate(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	var missingRef, deletedRef bool
	for _, msg := range v.Errors {
		switch msg {
		case "field basis_document_id references missing document no-such-doc":
			missingRef = true
		case fmt.Sprintf("field survey_document_id references deleted document %s", deleted.ID):
			deletedRef = true
		}
	}
	if !missingRef || !deletedRef {
		t.Fatalf("expected both reference errors, got %v", v.Errors)
	}
}

func TestValidateWarnsOnDuplicateSibling(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	next, err := env.Engine.Supersede(env.Ctx, doc.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}

	// a draft sibling is not worth flagging
	v, err := env.Engine.Validate(env.Ctx, next.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range v.Warnings {
		if strings.Contains(msg, doc.ID) {
			t.Fatalf("draft sibling should not warn: %v", v.Warnings)
		}
	}

	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err != nil {
		t.Fatal(err)
	}
	v, err = env.Engine.Validate(env.Ctx, next.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("document %s of the same kind already exists with status %s", doc.ID, domain.StatusInReview)
	found := false
	for _, msg := range v.Warnings {
		if msg == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate warning, got %v", v.Warnings)
	}
	for _, msg := range v.Errors {
		if strings.Contains(msg, "already exists") {
			t.Fatalf("duplicate must stay a warning, got error %q", msg)
		}
	}
}

func TestTransitionAuditUsesEngineClock(t *testing.T) {
	env := newTestEnv(t)
	doc := env.trigger(t)
	if _, err := env.Engine.Transition(env.Ctx, doc.ID, domain.StatusInReview, "tester", ""); err != nil {
		t.Fatal(err)
	}
	var ts string
	err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT ts FROM workflow_transitions WHERE document_id=? AND to_status=?`, doc.ID, domain.StatusInReview).Scan(&ts)
	if err != nil {
		t.Fatal(err)
	}
	if ts != "2024-03-01T12:00:00Z" {
		t.Fatalf("audit row not stamped by the engine clock: %s", ts)
	}
}
