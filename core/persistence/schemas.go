package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/utils"
)

// SCHEMA_COLLECTION_NAME is the entity, and table, that stores the schema of
// every registered entity.
const SCHEMA_COLLECTION_NAME = "_schemas"

// SchemaRecord is one row of the `_schemas` table.
type SchemaRecord struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version"`
	Schema      json.RawMessage `json:"schema"`
}

var schemasCollectionSchema = []byte(`
{
  "name": "_schemas",
  "table": "_schemas",
  "version": "1.0.0",
  "description": "Stores the schema definition of every registered entity.",
  "fields": {
    "name": {
      "name": "name",
      "type": "string",
      "required": true,
      "description": "The entity this schema defines."
    },
    "version": {
      "name": "version",
      "type": "string",
      "required": true
    },
    "description": {
      "name": "description",
      "type": "string"
    },
    "schema": {
      "name": "schema",
      "type": "record",
      "required": true,
      "description": "The full schema definition as a JSON object."
    }
  },
  "indexes": [
    {"name": "schemas_primary_key", "fields": ["name"], "type": "primary"},
    {"name": "schemas_version_index", "fields": ["version"], "type": "normal"}
  ]
}`)

func schemasSchema() (*schema.SchemaDefinition, error) {
	return schema.Parse(schemasCollectionSchema, schema.FormatJSON)
}

func newSchemaRecord(sc *schema.SchemaDefinition) (schema.Document, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema %s: %w", sc.Name, err)
	}
	record := SchemaRecord{
		Name:    sc.Name,
		Version: sc.Version,
		Schema:  raw,
	}
	if record.Version == "" {
		record.Version = "1.0.0"
	}
	if sc.Description != nil {
		record.Description = *sc.Description
	}
	return utils.StructToMap(record)
}

func schemaFromRecord(doc schema.Document) (*schema.SchemaDefinition, error) {
	record, err := utils.MapToStruct[SchemaRecord](doc)
	if err != nil {
		return nil, fmt.Errorf("error converting document to SchemaRecord: %w", err)
	}
	sc, err := schema.Parse(record.Schema, schema.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("stored schema %s is unreadable: %w", record.Name, err)
	}
	return sc, nil
}
