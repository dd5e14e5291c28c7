package repo

import (
	"context"
	"database/sql"

	"siteproof/internal/domain"
)

func (r Repo) InsertPerson(ctx context.Context, p domain.Person) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO persons(id,name,organization,position,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Organization), nullable(p.Position), p.CreatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	var p domain.Person
	var org, pos, deleted sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,organization,position,created_at,deleted_at FROM persons WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &org, &pos, &p.CreatedAt, &deleted)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if org.Valid {
		p.Organization = org.String
	}
	if pos.Valid {
		p.Position = pos.String
	}
	if deleted.Valid {
		p.DeletedAt = &deleted.String
	}
	return p, nil
}

func (r Repo) ListPersons(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,organization,position,created_at,deleted_at FROM persons WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		var org, pos, deleted sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &org, &pos, &p.CreatedAt, &deleted); err != nil {
			return nil, err
		}
		if org.Valid {
			p.Organization = org.String
		}
		if pos.Valid {
			p.Position = pos.String
		}
		if deleted.Valid {
			p.DeletedAt = &deleted.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetRoleAssignment resolves the person assigned to a role within a project.
func (r Repo) GetRoleAssignment(ctx context.Context, projectID, role string) (domain.RoleAssignment, error) {
	var a domain.RoleAssignment
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,role,person_id,created_at FROM role_assignments WHERE project_id=? AND role=?`, projectID, role).
		Scan(&a.ProjectID, &a.Role, &a.PersonID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertRoleAssignment(ctx context.Context, a domain.RoleAssignment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO role_assignments(project_id,role,person_id,created_at) VALUES (?,?,?,?)`,
		a.ProjectID, a.Role, a.PersonID, a.CreatedAt)
	return err
}

func (r Repo) ListRoleAssignments(ctx context.Context, projectID string) ([]domain.RoleAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,role,person_id,created_at FROM role_assignments WHERE project_id=? ORDER BY role`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleAssignment
	for rows.Next() {
		var a domain.RoleAssignment
		if err := rows.Scan(&a.ProjectID, &a.Role, &a.PersonID, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func scanWorkUnit(row *sql.Row) (domain.WorkUnit, error) {
	var w domain.WorkUnit
	var location, deleted sql.NullString
	err := row.Scan(&w.ID, &w.ProjectID, &w.Category, &w.Title, &location, &w.CreatedAt, &deleted)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if location.Valid {
		w.Location = location.String
	}
	if deleted.Valid {
		w.DeletedAt = &deleted.String
	}
	return w, nil
}

func (r Repo) InsertWorkUnit(ctx context.Context, w domain.WorkUnit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO work_units(id,project_id,category,title,location,created_at) VALUES (?,?,?,?,?,?)`,
		w.ID, w.ProjectID, w.Category, w.Title, nullable(w.Location), w.CreatedAt)
	return err
}

func (r Repo) GetWorkUnit(ctx context.Context, id string) (domain.WorkUnit, error) {
	return scanWorkUnit(r.DB.QueryRowContext(ctx, `SELECT id,project_id,category,title,location,created_at,deleted_at FROM work_units WHERE id=?`, id))
}

func (r Repo) ListWorkUnits(ctx context.Context, projectID string) ([]domain.WorkUnit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,category,title,location,created_at,deleted_at FROM work_units WHERE project_id=? AND deleted_at IS NULL ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkUnit
	for rows.Next() {
		var w domain.WorkUnit
		var location, deleted sql.NullString
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Category, &w.Title, &location, &w.CreatedAt, &deleted); err != nil {
			return nil, err
		}
		if location.Valid {
			w.Location = location.String
		}
		if deleted.Valid {
			w.DeletedAt = &deleted.String
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) SoftDeleteWorkUnit(ctx context.Context, id, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE work_units SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMaterial(ctx context.Context, m domain.Material) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO materials(id,work_unit_id,name,quantity,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.WorkUnitID, m.Name, nullable(m.Quantity), m.CreatedAt)
	return err
}

func (r Repo) ListMaterials(ctx context.Context, workUnitID string) ([]domain.Material, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_unit_id,name,quantity,created_at FROM materials WHERE work_unit_id=? ORDER BY created_at, id`, workUnitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Material
	for rows.Next() {
		var m domain.Material
		var qty sql.NullString
		if err := rows.Scan(&m.ID, &m.WorkUnitID, &m.Name, &qty, &m.CreatedAt); err != nil {
			return nil, err
		}
		if qty.Valid {
			m.Quantity = qty.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertCertificate(ctx context.Context, c domain.Certificate) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO certificates(id,material_id,number,file_name,file_path,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.MaterialID, nullable(c.Number), nullable(c.FileName), nullable(c.FilePath), c.CreatedAt)
	return err
}

// CountCertificates returns the number of certificates on file per material
// of a work unit, including materials with none.
func (r Repo) CountCertificates(ctx context.Context, workUnitID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.id, count(c.id) FROM materials m LEFT JOIN certificates c ON c.material_id=m.id WHERE m.work_unit_id=? GROUP BY m.id`, workUnitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		res[id] = count
	}
	return res, rows.Err()
}
