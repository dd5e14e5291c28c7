package server

// Request bodies for the SiteProof API. Responses reuse the domain and engine
// types directly; they already carry their JSON shape.

type CreatePersonRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Position     string `json:"position,omitempty"`
}

type AssignRoleRequest struct {
	Role     string `json:"role"`
	PersonID string `json:"person_id"`
}

type CreateWorkUnitRequest struct {
	ProjectID string `json:"project_id"`
	Category  string `json:"category"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
}

type AddMaterialRequest struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
}

type AddCertificateRequest struct {
	Number   string `json:"number,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type CreateRuleRequest struct {
	ProjectID           *string  `json:"project_id,omitempty"`
	WorkCategory        string   `json:"work_category"`
	DocumentKind        string   `json:"document_kind"`
	TriggerEvent        string   `json:"trigger_event"`
	PreparerRole        string   `json:"preparer_role"`
	CheckerRole         *string  `json:"checker_role,omitempty"`
	SignerRoles         []string `json:"signer_roles"`
	RequiredAttachments []string `json:"required_attachments,omitempty"`
	LinkedLogCategory   *string  `json:"linked_log_category,omitempty"`
}

type SetRuleActiveRequest struct {
	Active bool `json:"active"`
}

type TriggerRequest struct {
	Event string `json:"event"`
}

type UpdateFieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

type AddAttachmentRequest struct {
	Category string `json:"category,omitempty"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path,omitempty"`
}

type TransitionRequest struct {
	To      string `json:"to"`
	Comment string `json:"comment,omitempty"`
}

type BulkTransitionRequest struct {
	DocumentIDs []string `json:"document_ids"`
	To          string   `json:"to"`
	Comment     string   `json:"comment,omitempty"`
}

type AssignSignatureRequest struct {
	PersonID string `json:"person_id"`
}

type SignRequest struct {
	Comment string `json:"comment,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CreatePackageRequest struct {
	ProjectID string  `json:"project_id"`
	Title     string  `json:"title"`
	DateFrom  *string `json:"date_from,omitempty"`
	DateTo    *string `json:"date_to,omitempty"`
}

type AddPackageItemRequest struct {
	DocumentID string `json:"document_id"`
	Folder     string `json:"folder,omitempty"`
}
