package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type step struct {
	version int
	name    string
	script  string
}

// steps loads the embedded schema scripts, ordered by their numeric prefix.
func steps() ([]step, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	out := make([]step, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("schema script %s has no version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("schema script %s has no version prefix", name)
		}
		script, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, err
		}
		out = append(out, step{version: version, name: name, script: string(script)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate brings the schema up to the newest embedded version. Applied
// versions are recorded as rows in schema_version, one per step; each pending
// step runs in its own transaction together with its version record, so an
// interrupted run resumes at the first unapplied step.
func Migrate(db *sql.DB) error {
	all, err := steps()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER PRIMARY KEY, applied_name TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("prepare schema_version: %w", err)
	}
	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	for _, s := range all {
		if s.version <= current {
			continue
		}
		if err := apply(db, s); err != nil {
			return err
		}
		current = s.version
	}
	return nil
}

func apply(db *sql.DB, s step) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(s.script); err != nil {
		return fmt.Errorf("apply %s: %w", s.name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version(version, applied_name) VALUES (?, ?)`, s.version, s.name); err != nil {
		return fmt.Errorf("record %s: %w", s.name, err)
	}
	return tx.Commit()
}
