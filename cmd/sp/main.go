package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteproof/internal/blob"
	"siteproof/internal/config"
	"siteproof/internal/db"
	"siteproof/internal/domain"
	"siteproof/internal/engine"
	"siteproof/internal/migrate"
	"siteproof/internal/repo"
	"siteproof/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "SiteProof CLI",
	Long: `SiteProof keeps construction quality-control documentation compliant.
Core concepts:
- Workspace: the .siteproof directory with the database and blob files; siteproof.yml holds the kind catalog and matrix.
- Matrix rules: map (work category, document kind, trigger event) to signer roles and required attachments; project rules shadow global ones.
- Work units: the physical work; trigger events on them resolve the matrix and create draft documents with signature seats.
- Lifecycle: draft -> in_review -> pending_signature -> signed, with needs_revision loops; signed locks the document.
- Validation: gates review -> signature; required fields, attachments, dates, cross-references and material certificates, all reported at once.
- Packages: foldered zip archives with a CSV inventory, handed over to the client.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("SITEPROOF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(matrixCmd())
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(workUnitCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(packageCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	var seed bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace in %s (config: %s)\n", workspace, cfgPath)
			if seed {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					n, err := e.SeedMatrix(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("Seeded %d matrix rules\n", n)
					return nil
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "default", "project id for the generated config")
	cmd.Flags().BoolVar(&seed, "seed", false, "seed matrix rules from the generated config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func matrixCmd() *cobra.Command {
	matrix := &cobra.Command{
		Use:   "matrix",
		Short: "Manage the requirement matrix",
		Long:  "Matrix rules decide which documents a trigger event creates, who signs them and what evidence they need. Project-scoped rules shadow global ones for the same document kind.",
	}
	matrix.AddCommand(matrixSeedCmd())
	matrix.AddCommand(matrixListCmd())
	matrix.AddCommand(matrixAddCmd())
	matrix.AddCommand(matrixToggleCmd())
	return matrix
}

func matrixSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed global rules from siteproof.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SeedMatrix(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d matrix rules\n", n)
				return nil
			})
		},
	}
}

func matrixListCmd() *cobra.Command {
	var category, kind string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List matrix rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRules(ctx, repo.RuleFilters{
					ProjectID:    viper.GetString("project"),
					WorkCategory: category,
					DocumentKind: kind,
					ActiveOnly:   activeOnly,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Scope", "Category", "Kind", "Trigger", "Signers", "Active"})
				for _, r := range items {
					scope := "global"
					if r.ProjectID != nil {
						scope = *r.ProjectID
					}
					t.AppendRow(table.Row{r.ID, scope, r.WorkCategory, r.DocumentKind, r.TriggerEvent, strings.Join(r.SignerRoles, ", "), r.Active})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "work category filter")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind filter")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "active rules only")
	return cmd
}

func matrixAddCmd() *cobra.Command {
	var category, kind, trigger, preparer, checker, linkedLog string
	var signers, attachments []string
	var global bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a matrix rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule := domain.MatrixRule{
					WorkCategory:        category,
					DocumentKind:        kind,
					TriggerEvent:        trigger,
					PreparerRole:        preparer,
					SignerRoles:         signers,
					RequiredAttachments: attachments,
				}
				if !global {
					projectID := viper.GetString("project")
					if projectID == "" && e.Config != nil {
						projectID = e.Config.Project.ID
					}
					if projectID != "" {
						rule.ProjectID = &projectID
					}
				}
				if checker != "" {
					rule.CheckerRole = &checker
				}
				if linkedLog != "" {
					rule.LinkedLogCategory = &linkedLog
				}
				created, err := e.AddRule(ctx, rule)
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "work category")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind")
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger event")
	cmd.Flags().StringVar(&preparer, "preparer", "", "preparer role")
	cmd.Flags().StringVar(&checker, "checker", "", "checker role")
	cmd.Flags().StringSliceVar(&signers, "signer", nil, "signer role (repeatable, ordered)")
	cmd.Flags().StringSliceVar(&attachments, "attachment", nil, "required attachment label (repeatable)")
	cmd.Flags().StringVar(&linkedLog, "linked-log", "", "linked work log category")
	cmd.Flags().BoolVar(&global, "global", false, "create a global rule instead of project-scoped")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("trigger")
	_ = cmd.MarkFlagRequired("preparer")
	return cmd
}

func matrixToggleCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "toggle <rule-id>",
		Short: "Activate or deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetRuleActive(ctx, args[0], active)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "target active state")
	return cmd
}

func personCmd() *cobra.Command {
	person := &cobra.Command{Use: "person", Short: "Manage people and role assignments"}
	person.AddCommand(personAddCmd())
	person.AddCommand(personAssignCmd())
	person.AddCommand(personRolesCmd())
	return person
}

func personAddCmd() *cobra.Command {
	var name, org, position string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePerson(ctx, domain.Person{Name: name, Organization: org, Position: position})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "person name")
	cmd.Flags().StringVar(&org, "org", "", "organization")
	cmd.Flags().StringVar(&position, "position", "", "position")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func personAssignCmd() *cobra.Command {
	var role, personID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a project role to a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AssignRole(ctx, projectID(e), role, personID)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role label")
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func personRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRoleAssignments(ctx, projectID(e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Role", "Person"})
				for _, a := range items {
					t.AppendRow(table.Row{a.Role, a.PersonID})
				}
				t.Render()
				return nil
			})
		},
	}
}

func workUnitCmd() *cobra.Command {
	wu := &cobra.Command{
		Use:   "workunit",
		Short: "Manage work units",
		Long:  "Work units are the physical work on site. Trigger events on them resolve the matrix and create the documents the work requires.",
	}
	wu.AddCommand(workUnitAddCmd())
	wu.AddCommand(workUnitMaterialCmd())
	wu.AddCommand(workUnitCertCmd())
	wu.AddCommand(workUnitTriggerCmd())
	wu.AddCommand(workUnitMissingCmd())
	return wu
}

func workUnitAddCmd() *cobra.Command {
	var category, title, location string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a work unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkUnit(ctx, domain.WorkUnit{
					ProjectID: projectID(e),
					Category:  category,
					Title:     title,
					Location:  location,
				})
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "work category")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&location, "location", "", "location / axis")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workUnitMaterialCmd() *cobra.Command {
	var name, quantity string
	cmd := &cobra.Command{
		Use:   "material <work-unit-id>",
		Short: "Record a material used by a work unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMaterial(ctx, domain.Material{WorkUnitID: args[0], Name: name, Quantity: quantity})
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "material name")
	cmd.Flags().StringVar(&quantity, "quantity", "", "quantity")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workUnitCertCmd() *cobra.Command {
	var number, fileName, filePath string
	cmd := &cobra.Command{
		Use:   "cert <material-id>",
		Short: "Attach a certificate to a material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddCertificate(ctx, domain.Certificate{
					MaterialID: args[0],
					Number:     number,
					FileName:   fileName,
					FilePath:   filePath,
				})
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "certificate number")
	cmd.Flags().StringVar(&fileName, "file-name", "", "file name")
	cmd.Flags().StringVar(&filePath, "file-path", "", "stored file path")
	return cmd
}

func workUnitTriggerCmd() *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "trigger <work-unit-id>",
		Short: "Apply a trigger event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ApplyTrigger(ctx, args[0], event, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Created %d documents", len(res.Created))
				if len(res.SkippedKinds) > 0 {
					fmt.Printf(", skipped existing: %s", strings.Join(res.SkippedKinds, ", "))
				}
				fmt.Println()
				for _, d := range res.Created {
					fmt.Printf("  %s  %s  %s\n", d.ID, d.Kind, d.Title)
				}
				for _, gap := range res.UnassignedRoles {
					fmt.Printf("  warning: %s seat on %s has no assigned person\n", gap.Role, gap.DocumentKind)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "trigger event")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func workUnitMissingCmd() *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "missing <work-unit-id>",
		Short: "Preview which documents a trigger would create",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rules, err := e.MissingDocuments(ctx, args[0], event)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				for _, r := range rules {
					fmt.Printf("%s (signers: %s)\n", r.DocumentKind, strings.Join(r.SignerRoles, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "trigger event")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage documents",
		Long:  "Documents flow draft -> in_review -> pending_signature -> signed; needs_revision loops back. Validation gates the move to signature. Signed documents lock.",
	}
	doc.AddCommand(docListCmd())
	doc.AddCommand(docShowCmd())
	doc.AddCommand(docFieldsCmd())
	doc.AddCommand(docAttachCmd())
	doc.AddCommand(docTransitionCmd())
	doc.AddCommand(docValidateCmd())
	doc.AddCommand(docAssignCmd())
	doc.AddCommand(docSignCmd())
	doc.AddCommand(docRejectCmd())
	doc.AddCommand(docSupersedeCmd())
	doc.AddCommand(docLogCmd())
	doc.AddCommand(docDeleteCmd())
	return doc
}

func docListCmd() *cobra.Command {
	var workUnitID, kind, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{
					ProjectID:  viper.GetString("project"),
					WorkUnitID: workUnitID,
					Kind:       kind,
					Status:     status,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Kind", "Title", "Status", "Rev", "Date"})
				for _, d := range items {
					date := ""
					if d.DocumentDate != nil {
						date = *d.DocumentDate
					}
					t.AppendRow(table.Row{d.ID, d.Kind, d.Title, d.Status, d.Revision, date})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workUnitID, "workunit", "", "work unit filter")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func docShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with its signature seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				seats, err := e.Repo.ListSignatures(ctx, d.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"document": d, "signatures": seats})
			})
		},
	}
}

func docFieldsCmd() *cobra.Command {
	var fieldsJSON string
	cmd := &cobra.Command{
		Use:   "fields <document-id>",
		Short: "Replace the document fields payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateDocumentFields(ctx, args[0], fieldsJSON, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&fieldsJSON, "json", "", "fields as a JSON object")
	_ = cmd.MarkFlagRequired("json")
	return cmd
}

func docAttachCmd() *cobra.Command {
	var category, fileName, filePath string
	cmd := &cobra.Command{
		Use:   "attach <document-id>",
		Short: "Attach an evidence file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AddAttachment(ctx, domain.Attachment{
					DocumentID: args[0],
					Category:   category,
					FileName:   fileName,
					FilePath:   filePath,
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "attachment category (certificate, protocol, diagram, drawing, photo)")
	cmd.Flags().StringVar(&fileName, "file-name", "", "file name")
	cmd.Flags().StringVar(&filePath, "file-path", "", "stored file path")
	_ = cmd.MarkFlagRequired("file-name")
	return cmd
}

func docTransitionCmd() *cobra.Command {
	var to, comment string
	cmd := &cobra.Command{
		Use:   "transition <document-id> [document-id...]",
		Short: "Move documents to a new status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				if len(args) == 1 {
					d, err := e.Transition(ctx, args[0], to, actor, comment)
					if err != nil {
						var vfe engine.ValidationFailedError
						if errors.As(err, &vfe) {
							for _, msg := range vfe.Errors {
								fmt.Println("error:", msg)
							}
							for _, msg := range vfe.Warnings {
								fmt.Println("warning:", msg)
							}
						}
						return err
					}
					return printJSON(d)
				}
				outcomes := e.BulkTransition(ctx, args, to, actor, comment)
				if viper.GetBool("json") {
					return printJSON(outcomes)
				}
				for _, out := range outcomes {
					if out.Error != "" {
						fmt.Printf("%s  FAILED  %s\n", out.DocumentID, out.Error)
					} else {
						fmt.Printf("%s  %s\n", out.DocumentID, out.Document.Status)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&comment, "comment", "", "comment (required for needs_revision)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func docValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document-id>",
		Short: "Run all validation checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Validate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				for _, msg := range res.Errors {
					fmt.Println("error:", msg)
				}
				for _, msg := range res.Warnings {
					fmt.Println("warning:", msg)
				}
				if res.Valid {
					fmt.Println("valid: document can move to signature")
				} else {
					fmt.Printf("invalid: %d errors, %d warnings\n", len(res.Errors), len(res.Warnings))
				}
				return nil
			})
		},
	}
}

// seatByRole finds the signature seat for a role on a document.
func seatByRole(ctx context.Context, e engine.Engine, documentID, role string) (domain.Signature, error) {
	seats, err := e.Repo.ListSignatures(ctx, documentID)
	if err != nil {
		return domain.Signature{}, err
	}
	for _, s := range seats {
		if s.SignerRole == role {
			return s, nil
		}
	}
	return domain.Signature{}, fmt.Errorf("no %s seat on document %s", role, documentID)
}

func docAssignCmd() *cobra.Command {
	var role, person string
	cmd := &cobra.Command{
		Use:   "assign <document-id>",
		Short: "Assign a person to a pending signature seat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				seat, err := seatByRole(ctx, e, args[0], role)
				if err != nil {
					return err
				}
				sig, err := e.AssignSignature(ctx, seat.ID, person)
				if err != nil {
					return err
				}
				return printJSON(sig)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "signer role of the seat")
	cmd.Flags().StringVar(&person, "person", "", "person id")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func docSignCmd() *cobra.Command {
	var role, comment string
	cmd := &cobra.Command{
		Use:   "sign <document-id>",
		Short: "Sign a seat as the acting person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				seat, err := seatByRole(ctx, e, args[0], role)
				if err != nil {
					return err
				}
				sig, err := e.Sign(ctx, seat.ID, viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSON(sig)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "signer role of the seat")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func docRejectCmd() *cobra.Command {
	var role, reason string
	cmd := &cobra.Command{
		Use:   "reject <document-id>",
		Short: "Reject a seat, sending the document back for revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				seat, err := seatByRole(ctx, e, args[0], role)
				if err != nil {
					return err
				}
				sig, err := e.Reject(ctx, seat.ID, viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSON(sig)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "signer role of the seat")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func docSupersedeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supersede <document-id>",
		Short: "Create the next revision as a fresh draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Supersede(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func docLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <document-id>",
		Short: "Show workflow history, accepted and rejected attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Applied", "Comment"})
				for _, tr := range items {
					comment := ""
					if tr.Comment != nil {
						comment = *tr.Comment
					}
					t.AppendRow(table.Row{tr.TS, tr.FromStatus, tr.ToStatus, tr.ActorID, tr.Applied, comment})
				}
				t.Render()
				return nil
			})
		},
	}
}

func docDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Soft-delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SoftDeleteDocument(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func packageCmd() *cobra.Command {
	pkg := &cobra.Command{
		Use:   "package",
		Short: "Manage handover packages",
		Long:  "Packages collect signed documents into a foldered zip with a CSV inventory. draft -> generating -> ready -> delivered.",
	}
	pkg.AddCommand(packageCreateCmd())
	pkg.AddCommand(packageAddCmd())
	pkg.AddCommand(packageBuildCmd())
	pkg.AddCommand(packageDeliverCmd())
	pkg.AddCommand(packageItemsCmd())
	return pkg
}

func packageCreateCmd() *cobra.Command {
	var title, dateFrom, dateTo string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a draft package",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := domain.Package{ProjectID: projectID(e), Title: title}
				if dateFrom != "" {
					p.DateFrom = &dateFrom
				}
				if dateTo != "" {
					p.DateTo = &dateTo
				}
				created, err := e.CreatePackage(ctx, p)
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "package title")
	cmd.Flags().StringVar(&dateFrom, "from", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dateTo, "to", "", "period end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func packageAddCmd() *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "add <package-id> <document-id>",
		Short: "Place a document into a draft package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.AddPackageItem(ctx, args[0], args[1], folder)
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "archive folder (defaults from kind)")
	return cmd
}

func packageBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <package-id>",
		Short: "Assemble the archive and inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.BuildPackage(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Archive: %s (%d bytes, %d documents)\n", res.ArchivePath, res.ByteSize, res.DocumentCount)
				fmt.Printf("Inventory: %s\n", res.InventoryPath)
				for _, id := range res.MissingFiles {
					fmt.Printf("  warning: missing stored file for %s\n", id)
				}
				return nil
			})
		},
	}
}

func packageDeliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <package-id>",
		Short: "Mark a ready package as handed over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DeliverPackage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func packageItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items <package-id>",
		Short: "List package items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPackageItems(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"Folder", "Order", "Document"})
				for _, item := range items {
					t.AppendRow(table.Row{item.FolderPath, item.OrderIndex, item.DocumentID})
				}
				t.Render()
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("SITEPROOF_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("SITEPROOF_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving SiteProof API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func projectID(e engine.Engine) string {
	if p := viper.GetString("project"); p != "" {
		return p
	}
	if e.Config != nil {
		return e.Config.Project.ID
	}
	return "default"
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default(viper.GetString("project"))
		if cfg.Project.ID == "" {
			cfg.Project.ID = "default"
		}
	}
	store, err := blob.NewDirStore(filepath.Join(workspace, ".siteproof", "blobs"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, store)
	return fn(ctx, e)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
