package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the study store
// expects. The readiness probe and the migrate command both run it.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"studies", "schema_migrations"} {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateTableStructure() error {
	studyColumns := map[string]string{
		"id":                "TEXT",
		"teacher_user_id":   "TEXT",
		"join_code":         "TEXT",
		"passage_reference": "TEXT",
		"passage_verses":    "TEXT",
		"status":            "TEXT",
		"created_at":        "DATETIME",
		"expires_at":        "DATETIME",
		"updated_at":        "DATETIME",
	}
	if err := v.validateColumns("studies", studyColumns); err != nil {
		return fmt.Errorf("studies table structure invalid: %w", err)
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{"idx_studies_join_code", "idx_studies_status", "idx_studies_teacher"} {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints confirms the status check constraint is enforced by
// attempting an insert that must fail.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO studies (id, teacher_user_id, join_code, passage_reference, status)
		VALUES ('constraint-probe', 'probe', 'PROBE0000000', 'probe', 'paused')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM studies WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: studies.status")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, wantType := range expected {
		gotType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", col, gotType, wantType)
		}
	}
	return nil
}
