package binding

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convertInto[T any](t *testing.T, src any) T {
	t.Helper()
	var out T
	require.NoError(t, convertValue(src, reflect.ValueOf(&out).Elem()))
	return out
}

func TestConvertTypedDriverValues(t *testing.T) {
	assert.Equal(t, int32(7), convertInto[int32](t, int64(7)))
	assert.Equal(t, int64(7), convertInto[int64](t, int64(7)))
	assert.Equal(t, uint16(9), convertInto[uint16](t, int64(9)))
	assert.Equal(t, 2.5, convertInto[float64](t, 2.5))
	assert.Equal(t, float32(2.5), convertInto[float32](t, 2.5))
	assert.Equal(t, true, convertInto[bool](t, true))
	assert.Equal(t, true, convertInto[bool](t, int64(1)))
	assert.Equal(t, "anvil", convertInto[string](t, "anvil"))
	assert.Equal(t, "anvil", convertInto[string](t, []byte("anvil")))
	assert.Equal(t, []byte("blob"), convertInto[[]byte](t, []byte("blob")))
	assert.Equal(t, []byte("text"), convertInto[[]byte](t, "text"))
}

func TestConvertTextDriverValues(t *testing.T) {
	// SQLite and text-protocol MySQL hand numbers and times back as text.
	assert.Equal(t, int64(42), convertInto[int64](t, "42"))
	assert.Equal(t, int64(42), convertInto[int64](t, []byte("42")))
	assert.Equal(t, uint64(42), convertInto[uint64](t, "42"))
	assert.Equal(t, 2.5, convertInto[float64](t, "2.5"))
	assert.Equal(t, true, convertInto[bool](t, "true"))
	assert.Equal(t, false, convertInto[bool](t, []byte("0")))
}

func TestConvertTime(t *testing.T) {
	want := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, want, convertInto[time.Time](t, want))
	got := convertInto[time.Time](t, "2026-03-14T09:26:53Z")
	assert.True(t, want.Equal(got))
	got = convertInto[time.Time](t, "2026-03-14 09:26:53")
	assert.True(t, want.Equal(got.UTC()))
	day := convertInto[time.Time](t, "2026-03-14")
	assert.Equal(t, 2026, day.Year())
}

func TestConvertUUID(t *testing.T) {
	id := uuid.MustParse("6a1f8c1e-1b2a-4c3d-8e4f-5a6b7c8d9e0f")
	assert.Equal(t, id, convertInto[uuid.UUID](t, id))
	assert.Equal(t, id, convertInto[uuid.UUID](t, id.String()))
	assert.Equal(t, id, convertInto[uuid.UUID](t, []byte(id.String())))
	assert.Equal(t, id, convertInto[uuid.UUID](t, id[:]))
	assert.Equal(t, id, convertInto[uuid.UUID](t, [16]byte(id)))
}

func TestConvertDecimal(t *testing.T) {
	want := decimal.RequireFromString("19.99")
	assert.True(t, want.Equal(convertInto[decimal.Decimal](t, "19.99")))
	assert.True(t, want.Equal(convertInto[decimal.Decimal](t, []byte("19.99"))))
	assert.True(t, decimal.NewFromInt(20).Equal(convertInto[decimal.Decimal](t, int64(20))))
}

func TestConvertNullLeavesZeroValue(t *testing.T) {
	assert.Equal(t, "", convertInto[string](t, nil))
	assert.Equal(t, int64(0), convertInto[int64](t, nil))
	assert.Nil(t, convertInto[*string](t, nil))
}

func TestConvertIntoPointerTarget(t *testing.T) {
	got := convertInto[*int64](t, int64(7))
	require.NotNil(t, got)
	assert.Equal(t, int64(7), *got)
}

func TestConvertErrors(t *testing.T) {
	var n int64
	assert.Error(t, convertValue("not a number", reflect.ValueOf(&n).Elem()))
	var id uuid.UUID
	assert.Error(t, convertValue("not a uuid", reflect.ValueOf(&id).Elem()))
	var d decimal.Decimal
	assert.Error(t, convertValue("not a decimal", reflect.ValueOf(&d).Elem()))
	var ts time.Time
	assert.Error(t, convertValue("not a time", reflect.ValueOf(&ts).Elem()))
}

type auditFields struct {
	CreatedAt time.Time `db:"created_at"`
}

type taggedRow struct {
	auditFields
	ID       int64
	FullName string `db:"display_name"`
	Ignored  string `db:"-"`
	internal string
}

func TestStructFields(t *testing.T) {
	fields := structFields(reflect.TypeOf(taggedRow{}))
	assert.Contains(t, fields, "id")
	assert.Contains(t, fields, "display_name")
	assert.Contains(t, fields, "created_at")
	assert.NotContains(t, fields, "full_name")
	assert.NotContains(t, fields, "ignored")
	assert.NotContains(t, fields, "internal")
}

func TestMapperForRejectsUnsupportedShapes(t *testing.T) {
	assert.Panics(t, func() { mapperFor[map[int]string]() })
	assert.Panics(t, func() { mapperFor[[]string]() })
	assert.Panics(t, func() { mapperFor[chan int]() })
	assert.NotPanics(t, func() { mapperFor[map[string]any]() })
	assert.NotPanics(t, func() { mapperFor[*widget]() })
	assert.NotPanics(t, func() { mapperFor[uuid.UUID]() })
	assert.NotPanics(t, func() { mapperFor[decimal.Decimal]() })
}
