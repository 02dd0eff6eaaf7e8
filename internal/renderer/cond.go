package renderer

import (
	"reflect"
	"text/template"

	"github.com/spf13/cast"

	"github.com/conneroisu/vista/internal/program"
)

// truthy applies Go's template truthiness: false, zero numbers, empty
// strings and collections, and nil are false.
func truthy(v interface{}) bool {
	ok, _ := template.IsTrue(v)
	return ok
}

// equal compares a resolved value with a condition literal. Booleans must
// match exactly, numbers compare by value across numeric types, strings
// compare against the value's string form and null matches nil only.
func equal(v interface{}, kind program.LiteralKind, want interface{}) bool {
	rv := indirect(reflect.ValueOf(v))

	switch kind {
	case program.LiteralNull:
		return !rv.IsValid() || isNilCollection(rv)
	case program.LiteralBool:
		return rv.IsValid() && rv.Kind() == reflect.Bool && rv.Bool() == want.(bool)
	case program.LiteralInt, program.LiteralFloat:
		if !rv.IsValid() || !isNumber(rv) {
			return false
		}
		got, err := cast.ToFloat64E(rv.Interface())
		if err != nil {
			return false
		}
		w, err := cast.ToFloat64E(want)
		return err == nil && got == w
	case program.LiteralString:
		if !rv.IsValid() {
			return false
		}
		got, err := cast.ToStringE(rv.Interface())
		return err == nil && got == want.(string)
	}
	return false
}

func isNumber(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isNilCollection(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
