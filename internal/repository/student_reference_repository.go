package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// ReferenceTable describes a table holding a student id reference.
type ReferenceTable struct {
	Name   string
	Column string
	// TextKey marks columns storing the id as text.
	TextKey bool
	// Filter is an extra static predicate, e.g. for polymorphic links.
	Filter string
	// Probe tables are only used when present in the schema.
	Probe    bool
	Optional bool
}

func (t ReferenceTable) where() string {
	cond := pq.QuoteIdentifier(t.Column) + " = $1"
	if t.Filter != "" {
		cond += " AND " + t.Filter
	}
	return cond
}

func (t ReferenceTable) key(id int64) interface{} {
	if t.TextKey {
		return strconv.FormatInt(id, 10)
	}
	return id
}

// CoreReferenceTables are always renumbered together with students.
var CoreReferenceTables = []ReferenceTable{
	{Name: "student_tuition", Column: "student_id"},
	{Name: "student_transactions", Column: "student_id"},
	{Name: "student_enrollments", Column: "student_id", TextKey: true},
	{Name: "class_enrollments", Column: "student_id"},
	{Name: "subject_enrollments", Column: "student_id"},
	{Name: "accounts", Column: "person_id", TextKey: true, Filter: "person_type = 'student'"},
	{Name: "student_clearances", Column: "student_id", Probe: true},
}

// StudentReferenceRepository inspects and rewrites student id references.
type StudentReferenceRepository struct {
	db *sqlx.DB
}

// NewStudentReferenceRepository constructs the repository.
func NewStudentReferenceRepository(db *sqlx.DB) *StudentReferenceRepository {
	return &StudentReferenceRepository{db: db}
}

func (r *StudentReferenceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// TableExists probes information_schema for a base table.
func (r *StudentReferenceRepository) TableExists(ctx context.Context, exec sqlx.ExtContext, name string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1 AND table_type = 'BASE TABLE')`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, name); err != nil {
		return false, fmt.Errorf("probe table %s: %w", name, err)
	}
	return exists, nil
}

type discoveredColumn struct {
	TableName string `db:"table_name"`
	DataType  string `db:"data_type"`
}

// DiscoverStudentIDTables lists base tables with a student_id column.
func (r *StudentReferenceRepository) DiscoverStudentIDTables(ctx context.Context, exec sqlx.ExtContext) ([]ReferenceTable, error) {
	const query = `SELECT c.table_name, c.data_type
FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = current_schema() AND c.column_name = 'student_id' AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name`
	var cols []discoveredColumn
	if err := sqlx.SelectContext(ctx, r.exec(exec), &cols, query); err != nil {
		return nil, fmt.Errorf("discover student_id tables: %w", err)
	}
	tables := make([]ReferenceTable, 0, len(cols))
	for _, c := range cols {
		tables = append(tables, ReferenceTable{Name: c.TableName, Column: "student_id", TextKey: isTextType(c.DataType)})
	}
	return tables, nil
}

func isTextType(dataType string) bool {
	switch dataType {
	case "text", "character varying", "character":
		return true
	}
	return false
}

// ResolveTables returns the core tables that exist, every other discovered
// student_id table, and the optional tables present in the schema. Missing
// probe and optional tables are reported as skipped.
func (r *StudentReferenceRepository) ResolveTables(ctx context.Context, exec sqlx.ExtContext, optional []string) ([]ReferenceTable, []string, error) {
	var (
		tables  []ReferenceTable
		skipped []string
		seen    = map[string]bool{"students": true}
	)
	for _, t := range CoreReferenceTables {
		if t.Probe {
			ok, err := r.TableExists(ctx, exec, t.Name)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				skipped = append(skipped, t.Name)
				seen[t.Name] = true
				continue
			}
		}
		tables = append(tables, t)
		seen[t.Name] = true
	}

	discovered, err := r.DiscoverStudentIDTables(ctx, exec)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]ReferenceTable, len(discovered))
	for _, t := range discovered {
		byName[t.Name] = t
	}

	optionalSet := make(map[string]bool, len(optional))
	for _, name := range optional {
		optionalSet[name] = true
		if seen[name] {
			continue
		}
		seen[name] = true
		t, ok := byName[name]
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		t.Optional = true
		tables = append(tables, t)
	}

	extra := make([]ReferenceTable, 0)
	for _, t := range discovered {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		extra = append(extra, t)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(tables, extra...), skipped, nil
}

// Count returns how many rows of table reference id.
func (r *StudentReferenceRepository) Count(ctx context.Context, exec sqlx.ExtContext, table ReferenceTable, id int64) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, pq.QuoteIdentifier(table.Name), table.where())
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, table.key(id)); err != nil {
		return 0, fmt.Errorf("count %s references to %d: %w", table.Name, id, err)
	}
	return count, nil
}

// Rewrite moves every reference in table from oldID to newID.
func (r *StudentReferenceRepository) Rewrite(ctx context.Context, exec sqlx.ExtContext, table ReferenceTable, oldID, newID int64) (int, error) {
	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s`,
		pq.QuoteIdentifier(table.Name), pq.QuoteIdentifier(table.Column), table.where())
	res, err := r.exec(exec).ExecContext(ctx, query, table.key(oldID), table.key(newID))
	if err != nil {
		return 0, fmt.Errorf("update %s references %d -> %d: %w", table.Name, oldID, newID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for %s: %w", table.Name, err)
	}
	return int(n), nil
}

// CountActiveSubjectEnrollments counts non-dropped subject enrollments in a period.
func (r *StudentReferenceRepository) CountActiveSubjectEnrollments(ctx context.Context, studentID int64, period models.AcademicPeriod) (int, error) {
	const query = `SELECT COUNT(*) FROM subject_enrollments
WHERE student_id = $1 AND school_year = $2 AND semester = $3
AND (credit_status IS NULL OR credit_status <> 'DROPPED')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, period.SchoolYear, period.Semester); err != nil {
		return 0, fmt.Errorf("count active subject enrollments: %w", err)
	}
	return count, nil
}

// CountTransactionsSince counts financial transactions on or after since.
func (r *StudentReferenceRepository) CountTransactionsSince(ctx context.Context, studentID int64, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM student_transactions WHERE student_id = $1 AND transaction_date >= $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, since); err != nil {
		return 0, fmt.Errorf("count recent transactions: %w", err)
	}
	return count, nil
}
