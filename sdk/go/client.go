package siteproofsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal SiteProof HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Document represents the API document model (partial).
type Document struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Kind       string  `json:"kind"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Revision   int     `json:"revision"`
	WorkUnitID *string `json:"work_unit_id,omitempty"`
	LockedAt   *string `json:"locked_at,omitempty"`
}

// Signature is one approval seat on a document.
type Signature struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	SignerRole string  `json:"signer_role"`
	PersonID   *string `json:"person_id,omitempty"`
	Status     string  `json:"status"`
	SignedAt   *string `json:"signed_at,omitempty"`
}

// ApplyResult is the outcome of a trigger event.
type ApplyResult struct {
	Created         []Document `json:"created"`
	SkippedKinds    []string   `json:"skipped_kinds,omitempty"`
	UnassignedRoles []RoleGap  `json:"unassigned_roles,omitempty"`
}

// RoleGap flags a seat created without an assigned signer.
type RoleGap struct {
	DocumentID   string `json:"document_id"`
	DocumentKind string `json:"document_kind"`
	Role         string `json:"role"`
}

// ValidationResult is the full finding list of one validation pass.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// TransitionOutcome is one entry of a bulk transition result.
type TransitionOutcome struct {
	DocumentID string    `json:"document_id"`
	Document   *Document `json:"document,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// BuildResult summarizes one package build.
type BuildResult struct {
	ArchivePath   string   `json:"archive_path"`
	InventoryPath string   `json:"inventory_path"`
	ByteSize      int      `json:"byte_size"`
	DocumentCount int      `json:"document_count"`
	MissingFiles  []string `json:"missing_files,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ApplyTrigger applies a trigger event to a work unit.
func (c *Client) ApplyTrigger(ctx context.Context, workUnitID, event string) (ApplyResult, error) {
	var resp ApplyResult
	endpoint := fmt.Sprintf("v0/work-units/%s/trigger", url.PathEscape(workUnitID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"event": event}, &resp)
	return resp, err
}

// GetDocument fetches a document by id.
func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("v0/documents/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves a document to a new status.
func (c *Client) Transition(ctx context.Context, documentID, to, comment string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("v0/documents/%s/transition", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"to": to, "comment": comment}, &resp)
	return resp, err
}

// BulkTransition moves several documents; each is judged on its own.
func (c *Client) BulkTransition(ctx context.Context, documentIDs []string, to, comment string) ([]TransitionOutcome, error) {
	var resp []TransitionOutcome
	body := map[string]any{"document_ids": documentIDs, "to": to, "comment": comment}
	err := c.do(ctx, http.MethodPost, "v0/documents/transition", body, &resp)
	return resp, err
}

// Validate runs the validation checks on a document.
func (c *Client) Validate(ctx context.Context, documentID string) (ValidationResult, error) {
	var resp ValidationResult
	endpoint := fmt.Sprintf("v0/documents/%s/validation", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListSignatures returns the signature seats on a document.
func (c *Client) ListSignatures(ctx context.Context, documentID string) ([]Signature, error) {
	var resp []Signature
	endpoint := fmt.Sprintf("v0/documents/%s/signatures", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Sign signs a seat as the authenticated person.
func (c *Client) Sign(ctx context.Context, signatureID, comment string) (Signature, error) {
	var resp Signature
	endpoint := fmt.Sprintf("v0/signatures/%s/sign", url.PathEscape(signatureID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Reject refuses a seat, sending the document back for revision.
func (c *Client) Reject(ctx context.Context, signatureID, reason string) (Signature, error) {
	var resp Signature
	endpoint := fmt.Sprintf("v0/signatures/%s/reject", url.PathEscape(signatureID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// BuildPackage assembles a draft package into an archive.
func (c *Client) BuildPackage(ctx context.Context, packageID string) (BuildResult, error) {
	var resp BuildResult
	endpoint := fmt.Sprintf("v0/packages/%s/build", url.PathEscape(packageID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
