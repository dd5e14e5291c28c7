package domain

// Document statuses.
const (
	StatusDraft            = "draft"
	StatusInReview         = "in_review"
	StatusNeedsRevision    = "needs_revision"
	StatusPendingSignature = "pending_signature"
	StatusSigned           = "signed"
	StatusArchived         = "archived"
	StatusInPackage        = "in_package"
)

// Signature seat statuses.
const (
	SignaturePending  = "pending"
	SignatureSigned   = "signed"
	SignatureRejected = "rejected"
)

// Package statuses.
const (
	PackageDraft      = "draft"
	PackageGenerating = "generating"
	PackageReady      = "ready"
	PackageDelivered  = "delivered"
)

type Person struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Organization string  `json:"organization,omitempty"`
	Position     string  `json:"position,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	DeletedAt    *string `json:"deleted_at,omitempty" format:"date-time"`
}

// RoleAssignment binds a role label to a person within one project.
type RoleAssignment struct {
	ProjectID string `json:"project_id"`
	Role      string `json:"role"`
	PersonID  string `json:"person_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkUnit struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Category  string  `json:"category"`
	Title     string  `json:"title"`
	Location  string  `json:"location,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	DeletedAt *string `json:"deleted_at,omitempty" format:"date-time"`
}

type Material struct {
	ID         string `json:"id"`
	WorkUnitID string `json:"work_unit_id"`
	Name       string `json:"name"`
	Quantity   string `json:"quantity,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Certificate struct {
	ID         string `json:"id"`
	MaterialID string `json:"material_id"`
	Number     string `json:"number,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// MatrixRule maps (work category, document kind, trigger event) to the people
// and evidence a document needs. ProjectID is nil for global rules; a
// project-scoped rule shadows the global one for the same document kind.
type MatrixRule struct {
	ID                  string   `json:"id"`
	ProjectID           *string  `json:"project_id,omitempty"`
	WorkCategory        string   `json:"work_category"`
	DocumentKind        string   `json:"document_kind"`
	TriggerEvent        string   `json:"trigger_event"`
	PreparerRole        string   `json:"preparer_role"`
	CheckerRole         *string  `json:"checker_role,omitempty"`
	SignerRoles         []string `json:"signer_roles"`
	RequiredAttachments []string `json:"required_attachments,omitempty"`
	LinkedLogCategory   *string  `json:"linked_log_category,omitempty"`
	Active              bool     `json:"active"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
}

type Document struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	Kind             string  `json:"kind"`
	Title            string  `json:"title"`
	Number           *string `json:"number,omitempty"`
	Status           string  `json:"status" enum:"draft,in_review,needs_revision,pending_signature,signed,archived,in_package"`
	Revision         int     `json:"revision"`
	ParentDocumentID *string `json:"parent_document_id,omitempty"`
	FieldsJSON       *string `json:"fields_json,omitempty"`
	WorkUnitID       *string `json:"work_unit_id,omitempty"`
	Location         *string `json:"location,omitempty"`
	RuleID           *string `json:"rule_id,omitempty"`
	DocumentDate     *string `json:"document_date,omitempty" format:"date"`
	FileName         *string `json:"file_name,omitempty"`
	FilePath         *string `json:"file_path,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
	LockedAt         *string `json:"locked_at,omitempty" format:"date-time"`
	DeletedAt        *string `json:"deleted_at,omitempty" format:"date-time"`
}

type Attachment struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Category   string `json:"category,omitempty"`
	FileName   string `json:"file_name"`
	FilePath   string `json:"file_path,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Signature is one required approval seat on a document.
type Signature struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	SignerRole string  `json:"signer_role"`
	PersonID   *string `json:"person_id,omitempty"`
	Status     string  `json:"status" enum:"pending,signed,rejected"`
	SignedAt   *string `json:"signed_at,omitempty" format:"date-time"`
	Comment    *string `json:"comment,omitempty"`
	OrderIndex int     `json:"order_index"`
}

// WorkflowTransition is the append-only lifecycle audit record. Rows are never
// mutated or deleted; Applied is false for attempts the state machine rejected.
type WorkflowTransition struct {
	ID         int64   `json:"id"`
	TS         string  `json:"ts" format:"date-time"`
	DocumentID string  `json:"document_id"`
	FromStatus string  `json:"from_status"`
	ToStatus   string  `json:"to_status"`
	ActorID    string  `json:"actor_id"`
	Comment    *string `json:"comment,omitempty"`
	Applied    bool    `json:"applied"`
}

type Package struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status" enum:"draft,generating,ready,delivered"`
	DateFrom      *string `json:"date_from,omitempty" format:"date"`
	DateTo        *string `json:"date_to,omitempty" format:"date"`
	ArchivePath   *string `json:"archive_path,omitempty"`
	InventoryPath *string `json:"inventory_path,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type PackageItem struct {
	PackageID  string `json:"package_id"`
	DocumentID string `json:"document_id"`
	FolderPath string `json:"folder_path"`
	OrderIndex int    `json:"order_index"`
}
