package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
)

func (s *SQLiteInteractor) selectAllSQL(p *metadata.EntityPersister) string {
	cols := p.Columns()
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s;", strings.Join(quoted, ", "), s.getTableName(p.TableName()))
}

// insertSQL renders one multi-row INSERT. The column list is the union of the
// properties present in the records, in persister order, so absent properties
// keep their column defaults unless another record sets them.
func (s *SQLiteInteractor) insertSQL(p *metadata.EntityPersister, records []schema.Document) (string, []any, error) {
	if len(records) == 0 {
		return "", nil, fmt.Errorf("no records provided for insert")
	}

	known := make(map[string]bool, p.ColumnCount())
	for _, col := range p.Columns() {
		known[col.Property] = true
	}
	present := make(map[string]bool)
	for _, record := range records {
		for property := range record {
			if !known[property] {
				return "", nil, fmt.Errorf("field '%s' not found in schema %s", property, p.EntityName())
			}
			present[property] = true
		}
	}

	var columns []metadata.Column
	for _, col := range p.Columns() {
		if present[col.Property] {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("no valid fields found in records")
	}

	quotedColumns := make([]string, len(columns))
	for i, col := range columns {
		quotedColumns[i] = quoteIdentifier(col.Name)
	}
	rowPlaceholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	valuesClauses := make([]string, 0, len(records))
	queryParams := make([]any, 0, len(records)*len(columns))
	for _, record := range records {
		for _, col := range columns {
			value, err := prepareValueForQuery(col, record[col.Property])
			if err != nil {
				return "", nil, fmt.Errorf("error preparing value for field '%s': %w", col.Property, err)
			}
			queryParams = append(queryParams, value)
		}
		valuesClauses = append(valuesClauses, rowPlaceholders)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s;",
		s.getTableName(p.TableName()), strings.Join(quotedColumns, ", "), strings.Join(valuesClauses, ", "))
	return sql, queryParams, nil
}

// prepareValueForQuery stores structured values as JSON text and booleans as
// 0 or 1.
func prepareValueForQuery(col metadata.Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch {
	case col.Type.Structured():
		switch v := value.(type) {
		case string:
			return v, nil
		case json.RawMessage:
			return string(v), nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s value: %w", col.Type, err)
		}
		return string(b), nil
	case col.Type == schema.FieldTypeBoolean:
		if b, ok := value.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	}
	return value, nil
}
