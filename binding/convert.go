package binding

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Drivers disagree about the values they hand back: database/sql narrows
// everything to int64, float64, bool, []byte, string and time.Time, while
// pgx returns richly typed values, and SQLite stores times and decimals as
// text. convertValue absorbs those differences so a bound function's
// declared type gets the same value regardless of backend.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

func convertValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil // SQL NULL leaves the zero value in place
	}
	if dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem())
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Type() {
	case timeType:
		return convertTime(src, dst)
	case uuidType:
		return convertUUID(src, dst)
	case decimalType:
		return convertDecimal(src, dst)
	case bytesType:
		if s, ok := src.(string); ok {
			dst.SetBytes([]byte(s))
			return nil
		}
	}

	switch dst.Kind() {
	case reflect.String:
		switch v := src.(type) {
		case []byte:
			dst.SetString(string(v))
		case fmt.Stringer:
			dst.SetString(v.String())
		default:
			dst.SetString(fmt.Sprintf("%v", src))
		}
		return nil

	case reflect.Bool:
		if s, ok := textOf(src); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("cannot convert %q into bool", s)
			}
			dst.SetBool(b)
			return nil
		}
		if sv.CanInt() {
			dst.SetBool(sv.Int() != 0)
			return nil
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := textOf(src); ok {
			n, err := strconv.ParseInt(s, 10, dst.Type().Bits())
			if err != nil {
				return fmt.Errorf("cannot convert %q into %s", s, dst.Type())
			}
			dst.SetInt(n)
			return nil
		}
		switch {
		case sv.CanInt():
			dst.SetInt(sv.Int())
			return nil
		case sv.CanUint():
			dst.SetInt(int64(sv.Uint()))
			return nil
		case sv.CanFloat():
			dst.SetInt(int64(sv.Float()))
			return nil
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := textOf(src); ok {
			n, err := strconv.ParseUint(s, 10, dst.Type().Bits())
			if err != nil {
				return fmt.Errorf("cannot convert %q into %s", s, dst.Type())
			}
			dst.SetUint(n)
			return nil
		}
		switch {
		case sv.CanInt():
			dst.SetUint(uint64(sv.Int()))
			return nil
		case sv.CanUint():
			dst.SetUint(sv.Uint())
			return nil
		case sv.CanFloat():
			dst.SetUint(uint64(sv.Float()))
			return nil
		}

	case reflect.Float32, reflect.Float64:
		if s, ok := textOf(src); ok {
			f, err := strconv.ParseFloat(s, dst.Type().Bits())
			if err != nil {
				return fmt.Errorf("cannot convert %q into %s", s, dst.Type())
			}
			dst.SetFloat(f)
			return nil
		}
		switch {
		case sv.CanFloat():
			dst.SetFloat(sv.Float())
			return nil
		case sv.CanInt():
			dst.SetFloat(float64(sv.Int()))
			return nil
		case sv.CanUint():
			dst.SetFloat(float64(sv.Uint()))
			return nil
		}
	}

	return fmt.Errorf("cannot convert %T into %s", src, dst.Type())
}

func textOf(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func convertTime(src any, dst reflect.Value) error {
	s, ok := textOf(src)
	if !ok {
		return fmt.Errorf("cannot convert %T into time.Time", src)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as a time", s)
}

func convertUUID(src any, dst reflect.Value) error {
	switch v := src.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("cannot parse %q as a uuid: %w", v, err)
		}
		dst.Set(reflect.ValueOf(id))
		return nil
	case []byte:
		if len(v) == 16 {
			id, err := uuid.FromBytes(v)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(id))
			return nil
		}
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("cannot parse %q as a uuid: %w", v, err)
		}
		dst.Set(reflect.ValueOf(id))
		return nil
	case [16]byte:
		dst.Set(reflect.ValueOf(uuid.UUID(v)))
		return nil
	}
	return fmt.Errorf("cannot convert %T into uuid.UUID", src)
}

func convertDecimal(src any, dst reflect.Value) error {
	var (
		d   decimal.Decimal
		err error
	)
	switch v := src.(type) {
	case string:
		d, err = decimal.NewFromString(v)
	case []byte:
		d, err = decimal.NewFromString(string(v))
	case float64:
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int64:
		d = decimal.NewFromInt(v)
	case int32:
		d = decimal.NewFromInt32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	default:
		return fmt.Errorf("cannot convert %T into decimal.Decimal", src)
	}
	if err != nil {
		return fmt.Errorf("cannot parse %v as a decimal: %w", src, err)
	}
	dst.Set(reflect.ValueOf(d))
	return nil
}

// normalizeValue prepares a driver value for a map[string]any result row.
// Byte slices are copied because drivers may reuse the scan buffer when
// the cursor advances.
func normalizeValue(src any) any {
	if b, ok := src.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return src
}
