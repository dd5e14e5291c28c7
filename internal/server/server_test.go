package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"siteproof/internal/blob"
	"siteproof/internal/config"
	"siteproof/internal/db"
	"siteproof/internal/domain"
	"siteproof/internal/engine"
	"siteproof/internal/migrate"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := blob.NewDirStore(filepath.Join(workspace, "blobs"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	cfg := config.Default("proj-1")
	e := engine.New(conn, cfg, store)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func asActor(t *testing.T, subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, subject)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d: %s", res.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials code, got %q", env.Error.Code)
	}

	// health stays open
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d: %s", res.StatusCode, data)
	}
}

func TestLegacyActorHeader(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/persons", map[string]any{
		"name": "L. Header",
	}, map[string]string{"X-Actor-Id": "legacy-user"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 via legacy header, got %d: %s", res.StatusCode, data)
	}
}

// setupProject seeds the matrix, registers two people with roles and one
// concrete work unit, all over HTTP.
func setupProject(t *testing.T, srv *testServer) (producer, supervisor domain.Person, workUnit domain.WorkUnit) {
	t.Helper()
	client := srv.Client()
	admin := asActor(t, "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules/seed", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seed rules: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/persons", map[string]any{
		"name": "P. Voss", "organization": "BuildCo", "position": "site manager",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create producer: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &producer); err != nil {
		t.Fatalf("unmarshal producer: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/persons", map[string]any{
		"name": "A. Reim", "organization": "Client", "position": "supervisor",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create supervisor: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &supervisor); err != nil {
		t.Fatalf("unmarshal supervisor: %v", err)
	}

	for role, person := range map[string]domain.Person{"producer": producer, "supervisor": supervisor} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/roles", map[string]any{
			"role": role, "person_id": person.ID,
		}, admin)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("assign %s: %d %s", role, res.StatusCode, data)
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-units", map[string]any{
		"project_id": "proj-1", "category": "concrete", "title": "Foundation slab", "location": "axis 1-4",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work unit: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &workUnit); err != nil {
		t.Fatalf("unmarshal work unit: %v", err)
	}
	return producer, supervisor, workUnit
}

func TestTriggerToSignedFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	producer, supervisor, workUnit := setupProject(t, srv)
	admin := asActor(t, "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-units/"+workUnit.ID+"/trigger", map[string]any{
		"event": "work completed",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger: %d %s", res.StatusCode, data)
	}
	var applied engine.ApplyResult
	if err := json.Unmarshal(data, &applied); err != nil {
		t.Fatalf("unmarshal trigger result: %v", err)
	}
	if len(applied.Created) != 1 {
		t.Fatalf("expected 1 created document, got %d", len(applied.Created))
	}
	doc := applied.Created[0]

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/documents/"+doc.ID+"/fields", map[string]any{
		"fields": map[string]any{
			"act_number":       "HWA-1",
			"work_description": "Concrete pour",
			"work_start_date":  "2024-02-01",
			"work_end_date":    "2024-02-10",
			"project_docs_ref": "PD-401.1 sheet 4",
			"disposition":      "continue",
		},
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update fields: %d %s", res.StatusCode, data)
	}
	for _, att := range []map[string]any{
		{"category": "certificate", "file_name": "cement-cert.pdf"},
		{"category": "diagram", "file_name": "as-built.pdf"},
	} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/attachments", att, admin)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("attach: %d %s", res.StatusCode, data)
		}
	}

	for _, to := range []string{"in_review", "pending_signature"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/transition", map[string]any{
			"to": to,
		}, admin)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", to, res.StatusCode, data)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents/"+doc.ID+"/signatures", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list signatures: %d %s", res.StatusCode, data)
	}
	var seats []domain.Signature
	if err := json.Unmarshal(data, &seats); err != nil {
		t.Fatalf("unmarshal signatures: %v", err)
	}
	if len(seats) != 2 {
		t.Fatalf("expected 2 seats, got %d", len(seats))
	}

	// each seat is signed by its own assigned person, identified by the token subject
	signers := map[string]domain.Person{"producer": producer, "supervisor": supervisor}
	for _, seat := range seats {
		person, ok := signers[seat.SignerRole]
		if !ok {
			t.Fatalf("unexpected seat role %s", seat.SignerRole)
		}
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/signatures/"+seat.ID+"/sign", map[string]any{}, asActor(t, person.ID))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("sign seat %s: %d %s", seat.SignerRole, res.StatusCode, data)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents/"+doc.ID, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get document: %d %s", res.StatusCode, data)
	}
	var signed domain.Document
	if err := json.Unmarshal(data, &signed); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if signed.Status != domain.StatusSigned {
		t.Fatalf("expected signed document, got %s", signed.Status)
	}
	if signed.LockedAt == nil {
		t.Fatalf("expected a locked document")
	}
}

func TestValidationFailedEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, _, workUnit := setupProject(t, srv)
	admin := asActor(t, "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-units/"+workUnit.ID+"/trigger", map[string]any{
		"event": "work completed",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger: %d %s", res.StatusCode, data)
	}
	var applied engine.ApplyResult
	_ = json.Unmarshal(data, &applied)
	doc := applied.Created[0]

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/transition", map[string]any{
		"to": "in_review",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to in_review: %d %s", res.StatusCode, data)
	}

	// an empty act cannot go out for signature
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/transition", map[string]any{
		"to": "pending_signature",
	}, admin)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %q", env.Error.Code)
	}
	if errs, ok := env.Error.Details["errors"].([]any); !ok || len(errs) == 0 {
		t.Fatalf("expected error details, got %v", env.Error.Details)
	}
}

func TestIllegalTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, _, workUnit := setupProject(t, srv)
	admin := asActor(t, "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-units/"+workUnit.ID+"/trigger", map[string]any{
		"event": "work completed",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger: %d %s", res.StatusCode, data)
	}
	var applied engine.ApplyResult
	_ = json.Unmarshal(data, &applied)
	doc := applied.Created[0]

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/transition", map[string]any{
		"to": "signed",
	}, admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, data)
	}
	env := decodeError(t, data)
	if env.Error.Code != "illegal_transition" {
		t.Fatalf("expected illegal_transition code, got %q", env.Error.Code)
	}
	if env.Error.Details["from"] != "draft" || env.Error.Details["to"] != "signed" {
		t.Fatalf("expected from/to details, got %v", env.Error.Details)
	}
}

func TestUnknownDocumentIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asActor(t, "admin")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents/nope", nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", env.Error.Code)
	}
}
