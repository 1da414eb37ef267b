package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// quoteIdentifier quotes a table, column or index name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// getTableName applies the configured prefix and quotes the result.
func (s *SQLiteInteractor) getTableName(baseName string) string {
	return quoteIdentifier(s.options.TablePrefix + baseName)
}

// CreateCollection creates the table of an entity and, when enabled, its
// indexes.
func (s *SQLiteInteractor) CreateCollection(ctx context.Context, p *metadata.EntityPersister) error {
	if s.options.DropIfExists {
		if err := s.DropCollection(ctx, p); err != nil {
			return err
		}
	}

	stmt, err := s.CreateTableSQL(p)
	if err != nil {
		return fmt.Errorf("failed to generate SQL for table %s: %w", p.TableName(), err)
	}
	s.logger.Debug("Creating table", zap.String("table", p.TableName()), zap.String("sql", stmt))
	if _, err := s.runner().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
	}

	if !s.options.CreateIndexes {
		return nil
	}
	for _, index := range p.Schema().Indexes {
		sqlIndex, err := s.CreateIndexSQL(p, index)
		if err != nil {
			return fmt.Errorf("failed to generate SQL for index %s: %w", index.Name, err)
		}
		if sqlIndex == "" {
			continue
		}
		if _, err := s.runner().ExecContext(ctx, sqlIndex); err != nil {
			return fmt.Errorf("failed to create index %s: %w", index.Name, err)
		}
	}
	return nil
}

// CreateTableSQL renders the CREATE TABLE statement of an entity. Columns
// follow the persister order, identifiers first, and the identifier columns
// form the primary key.
func (s *SQLiteInteractor) CreateTableSQL(p *metadata.EntityPersister) (string, error) {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if s.options.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(s.getTableName(p.TableName()) + " (\n")

	sc := p.Schema()
	columns := make([]string, 0, p.ColumnCount())
	for _, col := range p.Columns() {
		columnDef, err := s.buildColumnDefinition(col.Name, sc.FindField(col.Property))
		if err != nil {
			return "", fmt.Errorf("error on field '%s': %w", col.Property, err)
		}
		columns = append(columns, "    "+columnDef)
	}
	sb.WriteString(strings.Join(columns, ",\n"))

	ids := p.IdentifierColumns()
	quotedPKs := make([]string, len(ids))
	for i, id := range ids {
		quotedPKs[i] = quoteIdentifier(id.Name)
	}
	sb.WriteString(",\n    PRIMARY KEY (" + strings.Join(quotedPKs, ", ") + ")")

	sb.WriteString("\n);")
	return sb.String(), nil
}

func (s *SQLiteInteractor) buildColumnDefinition(column string, field *schema.FieldDefinition) (string, error) {
	if field == nil {
		return "", errors.New("no field definition")
	}
	parts := []string{quoteIdentifier(column), s.GetColumnType(field.Type)}

	if field.Required != nil && *field.Required {
		parts = append(parts, "NOT NULL")
	}
	if field.Default != nil {
		defVal, err := formatDefaultValue(field.Default, field.Type)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+defVal)
	}
	if field.Unique != nil && *field.Unique {
		parts = append(parts, "UNIQUE")
	}
	if field.Type == schema.FieldTypeEnum && len(field.Values) > 0 {
		checkValues := make([]string, 0, len(field.Values))
		for _, v := range field.Values {
			valStr, _ := formatDefaultValue(v, schema.FieldTypeString)
			checkValues = append(checkValues, valStr)
		}
		parts = append(parts, fmt.Sprintf("CHECK(%s IN (%s))", quoteIdentifier(column), strings.Join(checkValues, ", ")))
	}
	return strings.Join(parts, " "), nil
}

// GetColumnType maps a field type to its SQLite column type.
func (s *SQLiteInteractor) GetColumnType(fieldType schema.FieldType) string {
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return "TEXT"
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return "REAL"
	case schema.FieldTypeInteger, schema.FieldTypeBoolean:
		return "INTEGER"
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeSet, schema.FieldTypeRecord:
		return "TEXT"
	default:
		return "BLOB"
	}
}

func formatDefaultValue(value any, fieldType schema.FieldType) (string, error) {
	if value == nil {
		return "NULL", nil
	}
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(fmt.Sprintf("%v", value), "'", "''")), nil
	case schema.FieldTypeNumber, schema.FieldTypeInteger, schema.FieldTypeDecimal:
		return fmt.Sprintf("%v", value), nil
	case schema.FieldTypeBoolean:
		if b, ok := value.(bool); ok && b {
			return "1", nil
		}
		return "0", nil
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeSet, schema.FieldTypeRecord:
		jsonBytes, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to marshal default value to JSON: %w", err)
		}
		return fmt.Sprintf("'%s'", strings.ReplaceAll(string(jsonBytes), "'", "''")), nil
	default:
		return "", fmt.Errorf("unsupported type for default value: %s", fieldType)
	}
}

// CreateIndexSQL renders the CREATE INDEX statement of a non-primary index.
// Primary indexes are part of the table and render as "".
func (s *SQLiteInteractor) CreateIndexSQL(p *metadata.EntityPersister, index schema.IndexDefinition) (string, error) {
	if index.Type == schema.IndexTypePrimary {
		return "", nil
	}
	if len(index.Fields) == 0 {
		return "", fmt.Errorf("index %q has no fields", index.Name)
	}

	table := s.options.TablePrefix + p.TableName()
	sc := p.Schema()
	columns := make([]string, 0, len(index.Fields))
	for _, name := range index.Fields {
		field := sc.FindField(name)
		if field == nil {
			return "", fmt.Errorf("index %q references unknown field %q", index.Name, name)
		}
		part := quoteIdentifier(field.ColumnName())
		if index.Order != nil && strings.EqualFold(*index.Order, "desc") {
			part += " DESC"
		}
		columns = append(columns, part)
	}

	indexName := index.Name
	if indexName == "" {
		indexName = fmt.Sprintf("idx_%s_%s", table, strings.Join(index.Fields, "_"))
	}

	var sb strings.Builder
	sb.WriteString("CREATE ")
	if (index.Unique != nil && *index.Unique) || index.Type == schema.IndexTypeUnique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX IF NOT EXISTS ")
	sb.WriteString(quoteIdentifier(indexName))
	fmt.Fprintf(&sb, " ON %s (%s);", quoteIdentifier(table), strings.Join(columns, ", "))
	return sb.String(), nil
}

// DropCollection drops the table of an entity.
func (s *SQLiteInteractor) DropCollection(ctx context.Context, p *metadata.EntityPersister) error {
	fullTableName := s.getTableName(p.TableName())
	if _, err := s.runner().ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", fullTableName)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", fullTableName, err)
	}
	return nil
}

// CollectionExists checks if the table of an entity exists.
func (s *SQLiteInteractor) CollectionExists(ctx context.Context, p *metadata.EntityPersister) (bool, error) {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name = ?;"

	var name string
	err := s.runner().QueryRowContext(ctx, query, s.options.TablePrefix+p.TableName()).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
