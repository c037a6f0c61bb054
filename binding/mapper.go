package binding

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sqlbind/sqlbind/backend"
)

// The result mapper converts cursor rows into the shape a binding's type
// parameter declares. Shapes are classified once at binding construction:
//
//	scalar  one column, converted to T (string, ints, floats, bool,
//	        time.Time, uuid.UUID, decimal.Decimal, []byte)
//	struct  one row, columns matched to fields by db tag or snake_case
//	        field name
//	map     one row as map[string]any keyed by column name
//
// and each may be wrapped in a pointer for a nil-able single-row result.

type shapeKind uint8

const (
	shapeScalar shapeKind = iota
	shapeStruct
	shapeMap
)

type rowMapper[T any] struct {
	kind shapeKind
	ptr  bool
	base reflect.Type
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	bytesType   = reflect.TypeOf([]byte(nil))
	anyMapType  = reflect.TypeOf(map[string]any(nil))
)

// mapperFor classifies T. An unmappable T (channels, nested slices, maps
// with non-string keys, ...) panics at binding construction, the same
// moment template syntax errors surface.
func mapperFor[T any]() *rowMapper[T] {
	t := reflect.TypeFor[T]()
	m := &rowMapper[T]{base: t}
	if t.Kind() == reflect.Pointer {
		m.ptr = true
		m.base = t.Elem()
	}

	switch {
	case m.base == timeType || m.base == uuidType || m.base == decimalType || m.base == bytesType:
		m.kind = shapeScalar
	case m.base.Kind() == reflect.Struct:
		m.kind = shapeStruct
	case m.base.Kind() == reflect.Map:
		if m.base != anyMapType {
			panic(fmt.Sprintf("binding: unsupported map shape %s, want map[string]any", t))
		}
		m.kind = shapeMap
	case isScalarKind(m.base.Kind()):
		m.kind = shapeScalar
	default:
		panic(fmt.Sprintf("binding: unsupported return shape %s", t))
	}
	return m
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (m *rowMapper[T]) mapRow(rows backend.Rows) (T, error) {
	var zero T
	cols := rows.Columns()
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return zero, err
	}

	dst := reflect.New(m.base).Elem()
	switch m.kind {
	case shapeScalar:
		if len(cols) != 1 {
			return zero, &MappingError{Shape: m.base.String(),
				Err: fmt.Errorf("expected a single result column, got %d", len(cols))}
		}
		if err := convertValue(vals[0], dst); err != nil {
			return zero, &MappingError{Shape: m.base.String(), Err: err}
		}
	case shapeStruct:
		fields := structFields(m.base)
		for i, col := range cols {
			idx, ok := fields[col]
			if !ok {
				continue // extra columns are ignored
			}
			if err := convertValue(vals[i], fieldByPath(dst, idx)); err != nil {
				return zero, &MappingError{Shape: m.base.String(),
					Err: fmt.Errorf("column %q: %w", col, err)}
			}
		}
	case shapeMap:
		out := make(map[string]any, len(cols))
		for i, col := range cols {
			out[col] = normalizeValue(vals[i])
		}
		dst.Set(reflect.ValueOf(out))
	}

	if m.ptr {
		return dst.Addr().Interface().(T), nil
	}
	return dst.Interface().(T), nil
}

// structFieldCache maps struct types to column-name -> field index path,
// flattening embedded structs.
var structFieldCache sync.Map // reflect.Type -> map[string][]int

func structFields(t reflect.Type) map[string][]int {
	if m, ok := structFieldCache.Load(t); ok {
		return m.(map[string][]int)
	}
	m := map[string][]int{}
	var walk func(rt reflect.Type, path []int)
	walk = func(rt reflect.Type, path []int) {
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if f.PkgPath != "" {
				continue
			}
			tag := strings.Split(f.Tag.Get("db"), ",")[0]
			if tag == "-" {
				continue
			}
			if f.Anonymous && tag == "" && f.Type.Kind() == reflect.Struct && f.Type != timeType {
				walk(f.Type, append(path, i))
				continue
			}
			name := tag
			if name == "" {
				name = snakeCase(f.Name)
			}
			if _, dup := m[name]; dup {
				continue // outermost field wins, like encoding/json
			}
			idx := make([]int, len(path)+1)
			copy(idx, path)
			idx[len(path)] = i
			m[name] = idx
		}
	}
	walk(t, nil)
	structFieldCache.Store(t, m)
	return m
}

func fieldByPath(v reflect.Value, path []int) reflect.Value {
	for _, i := range path {
		v = v.Field(i)
	}
	return v
}
