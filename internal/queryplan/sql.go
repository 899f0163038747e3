package queryplan

import (
	"regexp"
	"strings"

	"github.com/roach88/docsync/internal/doc"
)

// SQLCompiler narrows a plan's key range into a parameterized SQLite
// WHERE fragment over a table storing one document per row, with the
// payload as JSON in a data column.
//
// The fragment selects a superset of the range: only leading equality
// fields and the first numeric range after them are pushed down. Callers
// must still filter rows with Matches.
//
// All values are parameterized, never interpolated.
type SQLCompiler struct {
	Schema     doc.Schema
	IDColumn   string
	LWTColumn  string
	DataColumn string
}

// NewSQLCompiler creates a compiler for the default column names.
func NewSQLCompiler(schema doc.Schema) *SQLCompiler {
	return &SQLCompiler{
		Schema:     schema,
		IDColumn:   "id",
		LWTColumn:  "lwt",
		DataColumn: "data",
	}
}

var plainPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// CompileRange returns (sql, params). sql is never empty.
func (c *SQLCompiler) CompileRange(plan Plan) (string, []any) {
	var parts []string
	var params []any

	for i, field := range plan.Index {
		if i >= len(plan.StartKeys) || i >= len(plan.EndKeys) {
			break
		}
		start, end := plan.StartKeys[i], plan.EndKeys[i]
		expr, exprParams, ok := c.fieldExpr(field)
		if !ok {
			break
		}

		if !isSentinel(start) && keysEqual(start, end) {
			if v, ok := sqlScalar(start); ok {
				parts = append(parts, expr+" = ?")
				params = append(params, exprParams...)
				params = append(params, v)
				continue
			}
			break
		}

		// First non-equality field: push numeric bounds, then stop.
		if f, ok := doc.ToFloat(start); ok && !isSentinel(start) {
			parts = append(parts, expr+" >= ?")
			params = append(params, exprParams...)
			params = append(params, f)
		}
		if f, ok := doc.ToFloat(end); ok && !isSentinel(end) {
			parts = append(parts, expr+" <= ?")
			params = append(params, exprParams...)
			params = append(params, f)
		}
		break
	}

	if len(parts) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(parts, " AND "), params
}

// OrderBy returns the deterministic ORDER BY key for document rows.
// COLLATE BINARY keeps text ordering stable across SQLite versions.
func (c *SQLCompiler) OrderBy() string {
	return c.IDColumn + " ASC COLLATE BINARY"
}

func (c *SQLCompiler) fieldExpr(field string) (string, []any, bool) {
	switch field {
	case c.Schema.PrimaryKey:
		return c.IDColumn, nil, true
	case doc.FieldLWT:
		return c.LWTColumn, nil, true
	case doc.FieldDeleted, doc.FieldRev:
		return "", nil, false
	}
	if !plainPath.MatchString(field) {
		return "", nil, false
	}
	return "json_extract(" + c.DataColumn + ", ?)", []any{"$." + field}, true
}

func sqlScalar(v any) (any, bool) {
	switch val := v.(type) {
	case string, bool:
		return val, true
	}
	if f, ok := doc.ToFloat(v); ok {
		return f, true
	}
	return nil, false
}
