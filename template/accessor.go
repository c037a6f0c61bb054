package template

import (
	"reflect"
	"strings"
	"sync"
)

// Dotted paths resolve left to right: the first segment names an entry of
// the render environment, each further segment is a field or key lookup on
// the prior value. Lookup is polymorphic over the value's shape — structs,
// maps and pointers to either all resolve the same way — with an accessor
// chosen per value rather than hard-coded per call site.

type accessor interface {
	lookup(v reflect.Value, name string) (reflect.Value, bool)
}

var (
	mapAcc    = mapAccessor{}
	structAcc = structAccessor{}
)

func resolvePath(env map[string]any, path []string) (any, error) {
	node, ok := env[path[0]]
	if !ok {
		return nil, &UnresolvedError{Path: path}
	}
	for _, name := range path[1:] {
		v := indirect(reflect.ValueOf(node))
		acc := accessorFor(v)
		if acc == nil {
			return nil, &UnresolvedError{Path: path}
		}
		next, ok := acc.lookup(v, name)
		if !ok {
			return nil, &UnresolvedError{Path: path}
		}
		if !next.IsValid() {
			node = nil
			continue
		}
		node = next.Interface()
	}
	return node, nil
}

func accessorFor(v reflect.Value) accessor {
	switch v.Kind() {
	case reflect.Map:
		return mapAcc
	case reflect.Struct:
		return structAcc
	default:
		return nil
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

type mapAccessor struct{}

func (mapAccessor) lookup(v reflect.Value, name string) (reflect.Value, bool) {
	keyT := v.Type().Key()
	key := reflect.ValueOf(name)
	if key.Type() != keyT {
		if !key.Type().ConvertibleTo(keyT) {
			return reflect.Value{}, false
		}
		key = key.Convert(keyT)
	}
	mv := v.MapIndex(key)
	if !mv.IsValid() {
		return reflect.Value{}, false
	}
	return mv, true
}

type structAccessor struct{}

// fieldNameCache maps struct types to their template-visible field names:
// the Go name itself, the db tag if present, and the snake_case form.
var fieldNameCache sync.Map // reflect.Type -> map[string]int

func (structAccessor) lookup(v reflect.Value, name string) (reflect.Value, bool) {
	idx, ok := fieldIndex(v.Type())[name]
	if !ok {
		return reflect.Value{}, false
	}
	return v.Field(idx), true
}

func fieldIndex(t reflect.Type) map[string]int {
	if m, ok := fieldNameCache.Load(t); ok {
		return m.(map[string]int)
	}
	m := make(map[string]int, t.NumField()*2)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		if tag != "" {
			m[strings.Split(tag, ",")[0]] = i
		}
		if _, taken := m[f.Name]; !taken {
			m[f.Name] = i
		}
		lower := lowerFirst(f.Name)
		if _, taken := m[lower]; !taken {
			m[lower] = i
		}
	}
	fieldNameCache.Store(t, m)
	return m
}

func lowerFirst(s string) string {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return s
	}
	return string(s[0]+'a'-'A') + s[1:]
}
