package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models siteproof.yml: the document-kind catalog, validation policy
// and archive layout. All of it is data; adding a kind or a matrix rule is a
// config-only change.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Kinds      map[string]KindSpec `yaml:"kinds"`
	Validation struct {
		// AttachmentCategories maps an attachment category to the label
		// keywords that select it, e.g. certificate: [certificate, passport].
		AttachmentCategories map[string][]string `yaml:"attachment_categories"`
		// WarningMarkers downgrade a missing attachment to a warning when the
		// requirement label contains one of them.
		WarningMarkers []string `yaml:"warning_markers"`
	} `yaml:"validation"`
	Archive struct {
		SummaryFolder   string   `yaml:"summary_folder"`
		DefaultFolder   string   `yaml:"default_folder"`
		StandardFolders []string `yaml:"standard_folders"`
		// AttachmentFolders routes an attachment category to a top-level
		// archive folder; categories not listed nest under the parent
		// document's folder.
		AttachmentFolders map[string]string `yaml:"attachment_folders"`
	} `yaml:"archive"`
	Matrix []RuleSpec `yaml:"matrix"`
}

// KindSpec describes one document kind.
type KindSpec struct {
	Title          string   `yaml:"title"`
	RequiredFields []string `yaml:"required_fields"`
	// Physical marks kinds that certify physical work and therefore require
	// material certificates on the linked work unit.
	Physical bool `yaml:"physical"`
	// HiddenWork marks the hidden-work inspection act, which must reference
	// governing project documentation.
	HiddenWork bool   `yaml:"hidden_work"`
	Folder     string `yaml:"folder"`
}

// RuleSpec is a seedable matrix rule.
type RuleSpec struct {
	WorkCategory        string   `yaml:"work_category"`
	DocumentKind        string   `yaml:"document_kind"`
	TriggerEvent        string   `yaml:"trigger_event"`
	PreparerRole        string   `yaml:"preparer_role"`
	CheckerRole         string   `yaml:"checker_role"`
	SignerRoles         []string `yaml:"signer_roles"`
	RequiredAttachments []string `yaml:"required_attachments"`
	LinkedLogCategory   string   `yaml:"linked_log_category"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sp init or import one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Kinds) == 0 {
		return fmt.Errorf("config.kinds is required")
	}
	for kind, spec := range c.Kinds {
		if kind == "" {
			return fmt.Errorf("config.kinds contains empty kind id")
		}
		for _, f := range spec.RequiredFields {
			if f == "" {
				return fmt.Errorf("kind %s has empty required field name", kind)
			}
		}
	}
	if c.Archive.SummaryFolder == "" {
		return fmt.Errorf("config.archive.summary_folder is required")
	}
	if c.Archive.DefaultFolder == "" {
		return fmt.Errorf("config.archive.default_folder is required")
	}
	for category, folder := range c.Archive.AttachmentFolders {
		if category == "" {
			return fmt.Errorf("config.archive.attachment_folders has empty category")
		}
		if folder == "" {
			return fmt.Errorf("attachment folder for category %s is empty", category)
		}
	}
	for i, r := range c.Matrix {
		if r.WorkCategory == "" || r.DocumentKind == "" || r.TriggerEvent == "" {
			return fmt.Errorf("matrix[%d]: work_category, document_kind and trigger_event are required", i)
		}
		if r.PreparerRole == "" {
			return fmt.Errorf("matrix[%d]: preparer_role is required", i)
		}
		if len(r.SignerRoles) == 0 {
			return fmt.Errorf("matrix[%d]: signer_roles must not be empty", i)
		}
		if _, ok := c.Kinds[r.DocumentKind]; !ok {
			return fmt.Errorf("matrix[%d]: unknown document kind %s", i, r.DocumentKind)
		}
	}
	return nil
}

// KindFolder resolves the archive folder for a document kind.
func (c *Config) KindFolder(kind string) string {
	if spec, ok := c.Kinds[kind]; ok && spec.Folder != "" {
		return spec.Folder
	}
	return c.Archive.DefaultFolder
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteproof.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s

kinds:
  summary_register:
    title: "Summary register"
    folder: "00-summary"
    required_fields: [period_start_date, period_end_date]
  hidden_work_act:
    title: "Hidden-work inspection act"
    folder: "01-inspection-acts"
    physical: true
    hidden_work: true
    required_fields:
      - act_number
      - work_description
      - work_start_date
      - work_end_date
      - project_docs_ref
      - disposition
  inspection_act:
    title: "Inspection act"
    folder: "01-inspection-acts"
    physical: true
    required_fields:
      - act_number
      - work_description
      - work_start_date
      - work_end_date
      - disposition
  network_act:
    title: "Utility network act"
    folder: "02-network-acts"
    required_fields: [act_number, network_description, test_date]
  material_certificate:
    title: "Material certificate"
    folder: "03-certificates"
    required_fields: [certificate_number]
  test_protocol:
    title: "Test protocol"
    folder: "04-test-protocols"
    required_fields: [protocol_number, test_date, result]
  correspondence:
    title: "Correspondence"
    folder: "05-correspondence"
    required_fields: [subject]
  work_log:
    title: "Work log extract"
    folder: "00-summary"
    required_fields: [log_number]

validation:
  attachment_categories:
    certificate: [certificate, passport]
    protocol: [protocol, test report]
    diagram: [diagram, as-built, survey]
    drawing: [drawing, sketch]
    photo: [photo]
  warning_markers: ["photo", "if applicable"]

archive:
  summary_folder: "00-summary"
  default_folder: "06-miscellaneous"
  standard_folders:
    - "00-summary"
    - "01-inspection-acts"
    - "02-network-acts"
    - "03-certificates"
    - "04-test-protocols"
    - "05-correspondence"
  attachment_folders:
    certificate: "03-certificates"
    protocol: "04-test-protocols"

matrix:
  - work_category: concrete
    document_kind: hidden_work_act
    trigger_event: work completed
    preparer_role: producer
    checker_role: technical supervisor
    signer_roles: [producer, supervisor]
    required_attachments: ["material certificate", "as-built diagram"]
    linked_log_category: concrete works
  - work_category: concrete
    document_kind: test_protocol
    trigger_event: strength achieved
    preparer_role: lab technician
    signer_roles: [lab technician, supervisor]
    required_attachments: ["test report"]
  - work_category: electrical
    document_kind: network_act
    trigger_event: work completed
    preparer_role: producer
    signer_roles: [producer, supervisor, operator]
    required_attachments: ["as-built diagram", "photo of installation"]
  - work_category: earthworks
    document_kind: hidden_work_act
    trigger_event: work completed
    preparer_role: producer
    signer_roles: [producer, supervisor]
    required_attachments: ["survey diagram", "photo if applicable"]
`
