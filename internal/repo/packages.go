package repo

import (
	"context"
	"database/sql"

	"siteproof/internal/domain"
)

const packageColumns = `id,project_id,title,status,date_from,date_to,archive_path,inventory_path,created_at,updated_at`

func scanPackage(scan func(...any) error) (domain.Package, error) {
	var p domain.Package
	var dateFrom, dateTo, archivePath, inventoryPath sql.NullString
	err := scan(&p.ID, &p.ProjectID, &p.Title, &p.Status, &dateFrom, &dateTo, &archivePath, &inventoryPath, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if dateFrom.Valid {
		p.DateFrom = &dateFrom.String
	}
	if dateTo.Valid {
		p.DateTo = &dateTo.String
	}
	if archivePath.Valid {
		p.ArchivePath = &archivePath.String
	}
	if inventoryPath.Valid {
		p.InventoryPath = &inventoryPath.String
	}
	return p, nil
}

func (r Repo) InsertPackage(ctx context.Context, p domain.Package) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO packages(`+packageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.Title, p.Status, nullableStringPtr(p.DateFrom), nullableStringPtr(p.DateTo),
		nullableStringPtr(p.ArchivePath), nullableStringPtr(p.InventoryPath), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPackage(ctx context.Context, id string) (domain.Package, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id=?`, id)
	return scanPackage(row.Scan)
}

func (r Repo) ListPackages(ctx context.Context, projectID string) ([]domain.Package, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Package
	for rows.Next() {
		p, err := scanPackage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetPackageStatus moves a package between statuses, guarded by the expected
// current status so concurrent builds of the same package exclude each other.
func (r Repo) SetPackageStatus(ctx context.Context, id, from, to, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE packages SET status=?, updated_at=? WHERE id=? AND status=?`, to, ts, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePackageTx(ctx context.Context, tx *sql.Tx, p domain.Package) error {
	_, err := tx.ExecContext(ctx, `UPDATE packages SET title=?, status=?, date_from=?, date_to=?, archive_path=?, inventory_path=?, updated_at=? WHERE id=?`,
		p.Title, p.Status, nullableStringPtr(p.DateFrom), nullableStringPtr(p.DateTo),
		nullableStringPtr(p.ArchivePath), nullableStringPtr(p.InventoryPath), p.UpdatedAt, p.ID)
	return err
}

func (r Repo) InsertPackageItem(ctx context.Context, item domain.PackageItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO package_items(package_id,document_id,folder_path,order_index) VALUES (?,?,?,?)`,
		item.PackageID, item.DocumentID, item.FolderPath, item.OrderIndex)
	return err
}

// ListPackageItems returns items ordered by target folder then item order.
func (r Repo) ListPackageItems(ctx context.Context, packageID string) ([]domain.PackageItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT package_id,document_id,folder_path,order_index FROM package_items WHERE package_id=? ORDER BY folder_path, order_index, document_id`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PackageItem
	for rows.Next() {
		var item domain.PackageItem
		if err := rows.Scan(&item.PackageID, &item.DocumentID, &item.FolderPath, &item.OrderIndex); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) PackageItemExists(ctx context.Context, packageID, documentID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM package_items WHERE package_id=? AND document_id=?`, packageID, documentID).Scan(&n)
	return n > 0, err
}

func (r Repo) CountPackageItems(ctx context.Context, packageID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM package_items WHERE package_id=?`, packageID).Scan(&n)
	return n, err
}
