package mapping

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-loom/core/schema"
)

// Coerce normalizes a driver value to the Go representation of a field type:
// int64 for integers, float64 for numbers and decimals, bool, string, []any for
// arrays and sets, map[string]any for objects and records. Nil stays nil.
func Coerce(value any, typ schema.FieldType) (any, error) {
	if value == nil {
		return nil, nil
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}

	switch typ {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		switch v := value.(type) {
		case string:
			return v, nil
		case time.Time:
			return v.Format(time.RFC3339Nano), nil
		}
	case schema.FieldTypeInteger:
		return toInt64(value)
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return toFloat64(value)
	case schema.FieldTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	case schema.FieldTypeArray, schema.FieldTypeSet:
		switch v := value.(type) {
		case []any:
			return v, nil
		case string:
			var out []any
			if err := json.Unmarshal([]byte(v), &out); err != nil {
				return nil, err
			}
			return out, nil
		}
	case schema.FieldTypeObject, schema.FieldTypeRecord:
		switch v := value.(type) {
		case map[string]any:
			return v, nil
		case string:
			var out map[string]any
			if err := json.Unmarshal([]byte(v), &out); err != nil {
				return nil, err
			}
			return out, nil
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("unsupported %T value for %s", value, typ)
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not integral", v)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%v overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("unsupported %T value for integer", value)
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	i, err := toInt64(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported %T value for number", value)
	}
	return float64(i), nil
}

// assign stores value into the variable target points to.
func assign(target any, value any) error {
	if scanner, ok := target.(sql.Scanner); ok {
		return scanner.Scan(value)
	}

	switch t := target.(type) {
	case *any:
		*t = value
		return nil
	case *string:
		if value == nil {
			*t = ""
			return nil
		}
		switch v := value.(type) {
		case string:
			*t = v
			return nil
		case []byte:
			*t = string(v)
			return nil
		}
	case *int:
		if value == nil {
			*t = 0
			return nil
		}
		i, err := toInt64(value)
		if err != nil {
			return err
		}
		if int64(int(i)) != i {
			return fmt.Errorf("%d overflows int", i)
		}
		*t = int(i)
		return nil
	case *int32:
		if value == nil {
			*t = 0
			return nil
		}
		i, err := toInt64(value)
		if err != nil {
			return err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return fmt.Errorf("%d overflows int32", i)
		}
		*t = int32(i)
		return nil
	case *int64:
		if value == nil {
			*t = 0
			return nil
		}
		i, err := toInt64(value)
		if err != nil {
			return err
		}
		*t = i
		return nil
	case *float64:
		if value == nil {
			*t = 0
			return nil
		}
		f, err := toFloat64(value)
		if err != nil {
			return err
		}
		*t = f
		return nil
	case *float32:
		if value == nil {
			*t = 0
			return nil
		}
		f, err := toFloat64(value)
		if err != nil {
			return err
		}
		*t = float32(f)
		return nil
	case *bool:
		if value == nil {
			*t = false
			return nil
		}
		if b, ok := value.(bool); ok {
			*t = b
			return nil
		}
	case *[]byte:
		switch v := value.(type) {
		case nil:
			*t = nil
			return nil
		case []byte:
			*t = append([]byte(nil), v...)
			return nil
		case string:
			*t = []byte(v)
			return nil
		}
	case *time.Time:
		switch v := value.(type) {
		case nil:
			*t = time.Time{}
			return nil
		case time.Time:
			*t = v
			return nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return err
			}
			*t = parsed
			return nil
		}
	case *map[string]any:
		switch v := value.(type) {
		case nil:
			*t = nil
			return nil
		case map[string]any:
			*t = v
			return nil
		}
	case *[]any:
		switch v := value.(type) {
		case nil:
			*t = nil
			return nil
		case []any:
			*t = v
			return nil
		}
	case **string:
		return assignPtr(t, value)
	case **int:
		return assignPtr(t, value)
	case **int64:
		return assignPtr(t, value)
	case **float64:
		return assignPtr(t, value)
	case **bool:
		return assignPtr(t, value)
	case **time.Time:
		return assignPtr(t, value)
	default:
		return fmt.Errorf("unsupported destination %T", target)
	}
	return fmt.Errorf("cannot store %T value into %T", value, target)
}

// assignPtr handles nullable fields: nil clears the pointer, anything else is
// stored into a freshly allocated value.
func assignPtr[T any](target **T, value any) error {
	if value == nil {
		*target = nil
		return nil
	}
	v := new(T)
	if err := assign(v, value); err != nil {
		return err
	}
	*target = v
	return nil
}
