package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"siteproof/internal/blob"
	"siteproof/internal/domain"
	"siteproof/internal/repo"
)

// BuildResult summarizes one package build.
type BuildResult struct {
	ArchivePath   string   `json:"archive_path"`
	InventoryPath string   `json:"inventory_path"`
	ByteSize      int      `json:"byte_size"`
	DocumentCount int      `json:"document_count"`
	MissingFiles  []string `json:"missing_files,omitempty"`
}

// CreatePackage opens a draft handover package.
func (e Engine) CreatePackage(ctx context.Context, p domain.Package) (domain.Package, error) {
	if p.ProjectID == "" || p.Title == "" {
		return p, errors.New("project and title are required")
	}
	if p.DateFrom != nil && p.DateTo != nil {
		from, okFrom := parseDate(*p.DateFrom)
		to, okTo := parseDate(*p.DateTo)
		if okFrom && okTo && from.After(to) {
			return p, errors.New("package date_from is after date_to")
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	p.Status = domain.PackageDraft
	p.CreatedAt = e.nowString()
	p.UpdatedAt = p.CreatedAt
	if err := e.Repo.InsertPackage(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// AddPackageItem places a document into a draft package. The folder defaults
// from the document kind's archive folder; a dated document must fall inside
// the package date window, while undated documents are always accepted.
func (e Engine) AddPackageItem(ctx context.Context, packageID, documentID, folder string) (domain.PackageItem, error) {
	var item domain.PackageItem
	pkg, err := e.Repo.GetPackage(ctx, packageID)
	if err != nil {
		return item, err
	}
	if pkg.Status != domain.PackageDraft {
		return item, IllegalTransitionError{From: pkg.Status, To: pkg.Status, Reason: "package is not draft"}
	}
	d, err := e.document(ctx, documentID)
	if err != nil {
		return item, err
	}
	if d.DocumentDate != nil {
		if docDate, ok := parseDate(*d.DocumentDate); ok {
			if pkg.DateFrom != nil {
				if from, ok := parseDate(*pkg.DateFrom); ok && docDate.Before(from) {
					return item, fmt.Errorf("document date %s is before package window", *d.DocumentDate)
				}
			}
			if pkg.DateTo != nil {
				if to, ok := parseDate(*pkg.DateTo); ok && docDate.After(to) {
					return item, fmt.Errorf("document date %s is after package window", *d.DocumentDate)
				}
			}
		}
	}
	if folder == "" && e.Config != nil {
		folder = e.Config.KindFolder(d.Kind)
	}
	if folder == "" {
		folder = "06-miscellaneous"
	}
	exists, err := e.Repo.PackageItemExists(ctx, packageID, documentID)
	if err != nil {
		return item, err
	}
	if exists {
		return item, DuplicateItemError{PackageID: packageID, DocumentID: documentID}
	}
	n, err := e.Repo.CountPackageItems(ctx, packageID)
	if err != nil {
		return item, err
	}
	item = domain.PackageItem{
		PackageID:  packageID,
		DocumentID: documentID,
		FolderPath: folder,
		OrderIndex: n,
	}
	if err := e.Repo.InsertPackageItem(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

// DeliverPackage marks a ready package as handed over.
func (e Engine) DeliverPackage(ctx context.Context, packageID string) (domain.Package, error) {
	pkg, err := e.Repo.GetPackage(ctx, packageID)
	if err != nil {
		return pkg, err
	}
	if pkg.Status != domain.PackageReady {
		return pkg, IllegalTransitionError{From: pkg.Status, To: domain.PackageDelivered, Reason: "package is not ready"}
	}
	now := e.nowString()
	if err := e.Repo.SetPackageStatus(ctx, packageID, domain.PackageReady, domain.PackageDelivered, now); err != nil {
		return pkg, err
	}
	pkg.Status = domain.PackageDelivered
	pkg.UpdatedAt = now
	return pkg, nil
}

// BuildPackage assembles a draft package into a foldered zip archive plus a
// CSV inventory, stores both, moves the signed member documents to in_package
// and the package to ready. The draft -> generating status guard makes
// concurrent builds of the same package exclude each other; a failed build
// reverts the package to draft. A member file that cannot be retrieved,
// whether missing or because the store is unavailable, becomes a placeholder
// note in the archive, never a failed build.
func (e Engine) BuildPackage(ctx context.Context, packageID, actor string) (BuildResult, error) {
	var result BuildResult
	pkg, err := e.Repo.GetPackage(ctx, packageID)
	if err != nil {
		return result, err
	}
	if pkg.Status != domain.PackageDraft {
		return result, IllegalTransitionError{From: pkg.Status, To: domain.PackageGenerating, Reason: "package is not draft"}
	}
	items, err := e.Repo.ListPackageItems(ctx, packageID)
	if err != nil {
		return result, err
	}
	if len(items) == 0 {
		return result, IllegalTransitionError{From: pkg.Status, To: domain.PackageGenerating, Reason: "package has no items"}
	}
	if err := e.Repo.SetPackageStatus(ctx, packageID, domain.PackageDraft, domain.PackageGenerating, e.nowString()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return result, IllegalTransitionError{From: domain.PackageDraft, To: domain.PackageGenerating, Reason: "package is already being built"}
		}
		return result, err
	}
	built := false
	defer func() {
		if !built {
			if err := e.Repo.SetPackageStatus(context.Background(), packageID, domain.PackageGenerating, domain.PackageDraft, e.nowString()); err != nil {
				// the package stays generating; an operator has to reset it
				_ = err
			}
		}
	}()

	summaryFolder := "00-summary"
	var standardFolders []string
	attachmentFolders := map[string]string{}
	if e.Config != nil {
		if e.Config.Archive.SummaryFolder != "" {
			summaryFolder = e.Config.Archive.SummaryFolder
		}
		standardFolders = e.Config.Archive.StandardFolders
		attachmentFolders = e.Config.Archive.AttachmentFolders
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	folderSeen := map[string]bool{}
	addFolder := func(name string) error {
		if name == "" || folderSeen[name] {
			return nil
		}
		folderSeen[name] = true
		_, err := zw.Create(name + "/")
		return err
	}
	for _, f := range standardFolders {
		if err := addFolder(f); err != nil {
			return result, err
		}
	}
	if err := addFolder(summaryFolder); err != nil {
		return result, err
	}
	usedNames := map[string]bool{}
	addFile := func(folder, name string, data []byte) error {
		if err := addFolder(folder); err != nil {
			return err
		}
		entry := path.Join(folder, name)
		for i := 2; usedNames[entry]; i++ {
			ext := path.Ext(name)
			base := strings.TrimSuffix(name, ext)
			entry = path.Join(folder, fmt.Sprintf("%s (%d)%s", base, i, ext))
		}
		usedNames[entry] = true
		w, err := zw.Create(entry)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	type inventoryRow struct {
		doc     domain.Document
		folder  string
		signers string
	}
	var rows []inventoryRow
	for _, item := range items {
		d, err := e.Repo.GetDocument(ctx, item.DocumentID)
		if err != nil {
			return result, err
		}
		if d.DeletedAt != nil {
			continue
		}
		name := d.ID + ".pdf"
		if d.FileName != nil && *d.FileName != "" {
			name = *d.FileName
		}
		var data []byte
		if d.FilePath != nil && *d.FilePath != "" {
			data, err = e.memberData(ctx, *d.FilePath)
			if err != nil {
				return result, err
			}
		}
		if data == nil {
			note := fmt.Sprintf("Document %s (%s) had no stored file at build time.\n", d.ID, d.Title)
			if err := addFile(item.FolderPath, "MISSING_"+name+".txt", []byte(note)); err != nil {
				return result, err
			}
			result.MissingFiles = append(result.MissingFiles, d.ID)
		} else if err := addFile(item.FolderPath, name, data); err != nil {
			return result, err
		}
		attachments, err := e.Repo.ListAttachments(ctx, d.ID)
		if err != nil {
			return result, err
		}
		for _, a := range attachments {
			folder, ok := attachmentFolders[a.Category]
			if !ok {
				// photos, drawings and other uncategorized evidence travel with
				// the parent document
				folder = path.Join(item.FolderPath, "attachments")
			}
			var adata []byte
			if a.FilePath != "" {
				adata, err = e.memberData(ctx, a.FilePath)
				if err != nil {
					return result, err
				}
			}
			if adata == nil {
				note := fmt.Sprintf("Attachment %s of document %s had no stored file at build time.\n", a.FileName, d.ID)
				if err := addFile(folder, "MISSING_"+a.FileName+".txt", []byte(note)); err != nil {
					return result, err
				}
				result.MissingFiles = append(result.MissingFiles, a.ID)
			} else if err := addFile(folder, a.FileName, adata); err != nil {
				return result, err
			}
		}
		signers, err := e.Repo.ListSignedSigners(ctx, d.ID)
		if err != nil {
			return result, err
		}
		parts := make([]string, 0, len(signers))
		for _, s := range signers {
			parts = append(parts, fmt.Sprintf("%s (%s)", s.Name, s.Role))
		}
		rows = append(rows, inventoryRow{doc: d, folder: item.FolderPath, signers: strings.Join(parts, "; ")})
		result.DocumentCount++
	}

	iw := table.NewWriter()
	iw.AppendHeader(table.Row{"#", "Number", "Title", "Date", "Kind", "Location", "Folder", "Status", "Signed by"})
	for i, row := range rows {
		number, date, location := "", "", ""
		if row.doc.Number != nil {
			number = *row.doc.Number
		}
		if row.doc.DocumentDate != nil {
			date = *row.doc.DocumentDate
		}
		if row.doc.Location != nil {
			location = *row.doc.Location
		}
		iw.AppendRow(table.Row{i + 1, number, row.doc.Title, date, row.doc.Kind, location, row.folder, row.doc.Status, row.signers})
	}
	inventoryCSV := iw.RenderCSV()
	if err := addFile(summaryFolder, "inventory.csv", []byte(inventoryCSV)); err != nil {
		return result, err
	}
	if err := zw.Close(); err != nil {
		return result, err
	}

	stamp := e.now().UTC().Format("20060102-150405")
	archivePath, err := e.Blob.Put(ctx, fmt.Sprintf("packages/%s/%s.zip", pkg.ID, stamp), buf.Bytes(), "application/zip")
	if err != nil {
		return result, err
	}
	inventoryPath, err := e.Blob.Put(ctx, fmt.Sprintf("packages/%s/%s-inventory.csv", pkg.ID, stamp), []byte(inventoryCSV), "text/csv")
	if err != nil {
		return result, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()
	for _, row := range rows {
		if row.doc.Status != domain.StatusSigned {
			continue
		}
		d, err := e.Repo.GetDocumentTx(ctx, tx, row.doc.ID)
		if err != nil {
			return result, err
		}
		if d.Status != domain.StatusSigned {
			continue
		}
		if err := e.applyTransitionTx(ctx, tx, &d, domain.StatusInPackage, actor, fmt.Sprintf("included in package %s", pkg.ID)); err != nil {
			return result, err
		}
	}
	pkg.Status = domain.PackageReady
	pkg.ArchivePath = &archivePath
	pkg.InventoryPath = &inventoryPath
	pkg.UpdatedAt = e.nowString()
	if err := e.Repo.UpdatePackageTx(ctx, tx, pkg); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}
	built = true
	result.ArchivePath = archivePath
	result.InventoryPath = inventoryPath
	result.ByteSize = buf.Len()
	return result, nil
}

// memberData reads one member file from storage. A missing blob or an
// unavailable store degrades to nil data so the build emits a placeholder and
// continues; context cancellation still aborts the build.
func (e Engine) memberData(ctx context.Context, filePath string) ([]byte, error) {
	data, err := e.Blob.Get(ctx, filePath)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrUnavailable) {
		return nil, nil
	}
	return nil, err
}
