// Package renderer executes compiled programs against caller data.
//
// Data is addressed by field paths. Maps with string (or integer) keys,
// structs and pointers to either are addressable; slices and arrays are
// indexed. Inside a foreach block the names loop_index and loop_value refer
// to the current element, shadowing any field of the same name.
package renderer

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/filters"
	"github.com/conneroisu/vista/internal/program"
)

// Loop bindings available inside foreach blocks.
const (
	LoopIndex = "loop_index"
	LoopValue = "loop_value"
)

// Renderer executes programs. It holds no per-render state and is safe for
// concurrent use.
type Renderer struct {
	filters *filters.Registry
}

// New creates a renderer that applies filters from reg. A nil reg uses the
// built-in filters.
func New(reg *filters.Registry) *Renderer {
	if reg == nil {
		reg = filters.Default()
	}
	return &Renderer{filters: reg}
}

// Execute renders prog against data. On error no output is returned.
func (r *Renderer) Execute(prog *program.Program, data interface{}) (string, error) {
	if prog == nil {
		return "", verrors.NewCacheError(verrors.CodeCacheCorrupt, "nil program", nil)
	}
	if err := prog.Validate(); err != nil {
		return "", verrors.NewCacheError(verrors.CodeCacheCorrupt, "invalid program", err)
	}

	root, err := normalizeRoot(data)
	if err != nil {
		return "", err
	}

	s := &state{r: r, nodes: prog.Nodes, root: root}
	if err := s.run(0, len(prog.Nodes)); err != nil {
		return "", err
	}
	return s.out.String(), nil
}

// frame is one level of loop bindings.
type frame struct {
	index interface{}
	value interface{}
}

type state struct {
	r      *Renderer
	nodes  []program.Node
	root   interface{}
	scopes []frame
	out    strings.Builder
}

// run executes nodes[from:to].
func (s *state) run(from, to int) error {
	for i := from; i < to; i++ {
		node := &s.nodes[i]
		switch node.Kind {
		case program.KindText:
			s.out.WriteString(node.Text)
		case program.KindPrint:
			if err := s.print(node); err != nil {
				return err
			}
		case program.KindForeach:
			if err := s.foreach(node, i); err != nil {
				return err
			}
			i = node.Jump
		case program.KindIf:
			ok, err := s.test(node)
			if err != nil {
				return err
			}
			if ok {
				if err := s.run(i+1, node.Jump); err != nil {
					return err
				}
			}
			i = node.Jump
		case program.KindEnd:
		default:
			return verrors.NewCacheError(verrors.CodeCacheCorrupt, "unknown node kind "+string(node.Kind), nil).WithLine(node.Line)
		}
	}
	return nil
}

func (s *state) print(node *program.Node) error {
	v, err := s.resolve(node)
	if err != nil {
		return err
	}

	switch node.Mode {
	case program.ModeRaw:
		return s.write(node, v, false)
	case program.ModePipeline:
		for _, call := range node.Pipeline {
			if v, err = s.apply(node, call, v); err != nil {
				return err
			}
		}
		return s.write(node, v, false)
	default:
		return s.write(node, v, true)
	}
}

func (s *state) write(node *program.Node, v interface{}, escape bool) error {
	str, err := filters.ToString(v)
	if err != nil {
		return verrors.NewRenderError(verrors.CodeFilterFailed, "cannot print value", err).
			WithToken(node.Tag).WithLine(node.Line)
	}
	if escape {
		str = filters.EscapeHTML(str)
	}
	s.out.WriteString(str)
	return nil
}

func (s *state) apply(node *program.Node, call program.Call, piped interface{}) (interface{}, error) {
	f, ok := s.r.filters.Lookup(call.Filter)
	if !ok {
		return nil, verrors.NewRenderError(verrors.CodeFilterFailed, "filter "+call.Filter+" is not registered", nil).
			WithToken(node.Tag).WithLine(node.Line)
	}

	args := make([]interface{}, len(call.Args))
	for i, a := range call.Args {
		if a.Piped {
			args[i] = piped
			continue
		}
		if a.Literal == nil {
			return nil, verrors.NewCacheError(verrors.CodeCacheCorrupt, "filter argument has no value", nil).WithLine(node.Line)
		}
		v, err := a.Literal.Value()
		if err != nil {
			return nil, verrors.NewCacheError(verrors.CodeCacheCorrupt, "bad filter argument", err).WithLine(node.Line)
		}
		args[i] = v
	}

	out, err := f.Apply(args...)
	if err != nil {
		return nil, verrors.NewRenderError(verrors.CodeFilterFailed, "filter "+call.Filter+" failed", err).
			WithToken(node.Tag).WithLine(node.Line)
	}
	return out, nil
}

// foreach runs the block once per element. Maps iterate in key order and
// structs over their exported fields in declaration order, keyed by field
// name.
func (s *state) foreach(node *program.Node, at int) error {
	v, err := s.resolve(node)
	if err != nil {
		return err
	}

	body := func(index, value interface{}) error {
		s.scopes = append(s.scopes, frame{index: index, value: value})
		err := s.run(at+1, node.Jump)
		s.scopes = s.scopes[:len(s.scopes)-1]
		return err
	}

	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := body(i, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
	case reflect.Map:
		for _, k := range sortedKeys(rv) {
			if err := body(k.Interface(), rv.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for _, sf := range reflect.VisibleFields(rv.Type()) {
			if !sf.IsExported() || sf.Anonymous {
				continue
			}
			fv, err := rv.FieldByIndexErr(sf.Index)
			if err != nil {
				continue
			}
			if err := body(sf.Name, fv.Interface()); err != nil {
				return err
			}
		}
	default:
		return verrors.NewRenderError(verrors.CodeNotIterable,
			fmt.Sprintf("%s is a %s and cannot be iterated", node.Path, rv.Kind()), nil).
			WithToken(node.Tag).WithLine(node.Line)
	}
	return nil
}

func (s *state) test(node *program.Node) (bool, error) {
	v, err := s.resolve(node)
	if err != nil {
		return false, err
	}
	if node.Cond == nil || node.Cond.Op == program.OpTruthy {
		return truthy(v), nil
	}

	if node.Cond.Literal == nil {
		return false, verrors.NewCacheError(verrors.CodeCacheCorrupt, "equality test has no literal", nil).WithLine(node.Line)
	}
	want, err := node.Cond.Literal.Value()
	if err != nil {
		return false, verrors.NewCacheError(verrors.CodeCacheCorrupt, "bad literal in condition", err).WithLine(node.Line)
	}
	return equal(v, node.Cond.Literal.Kind, want), nil
}

// resolve looks up node.Path in the current scope.
func (s *state) resolve(node *program.Node) (interface{}, error) {
	path := node.Path
	if len(path) == 0 {
		return nil, verrors.NewCacheError(verrors.CodeCacheCorrupt, "node has no field path", nil).WithLine(node.Line)
	}
	var cur interface{}

	first := path[0]
	switch {
	case !first.IsIndex && first.Key == LoopIndex && len(s.scopes) > 0:
		cur = s.scopes[len(s.scopes)-1].index
	case !first.IsIndex && first.Key == LoopValue && len(s.scopes) > 0:
		cur = s.scopes[len(s.scopes)-1].value
	default:
		v, ok := lookup(s.root, first)
		if !ok {
			return nil, missing(node, path[:1])
		}
		cur = v
	}

	for i := 1; i < len(path); i++ {
		v, ok := lookup(cur, path[i])
		if !ok {
			return nil, missing(node, path[:i+1])
		}
		cur = v
	}
	return cur, nil
}

func missing(node *program.Node, at program.Path) error {
	return verrors.NewRenderError(verrors.CodeMissingField, "field "+at.String()+" is not defined", nil).
		WithToken(node.Tag).WithLine(node.Line)
}

// normalizeRoot turns the caller's data into an addressable root. Slices
// and arrays become a mapping from decimal index to element.
func normalizeRoot(data interface{}) (interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	rv := indirect(reflect.ValueOf(data))
	if !rv.IsValid() {
		return map[string]interface{}{}, nil
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		return data, nil
	case reflect.Slice, reflect.Array:
		m := make(map[string]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			m[strconv.Itoa(i)] = rv.Index(i).Interface()
		}
		return m, nil
	default:
		return nil, verrors.NewRenderError(verrors.CodeBadContext,
			fmt.Sprintf("render data must be a map, struct or slice, got %T", data), nil)
	}
}

// lookup resolves one path segment on v.
func lookup(v interface{}, seg program.Segment) (interface{}, bool) {
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		key, ok := mapKey(rv.Type().Key(), seg)
		if !ok {
			return nil, false
		}
		out := rv.MapIndex(key)
		if !out.IsValid() {
			return nil, false
		}
		return out.Interface(), true
	case reflect.Struct:
		if seg.IsIndex {
			return nil, false
		}
		return field(rv, seg.Key)
	case reflect.Slice, reflect.Array:
		idx := seg.Index
		if !seg.IsIndex {
			n, err := strconv.Atoi(seg.Key)
			if err != nil {
				return nil, false
			}
			idx = n
		}
		if idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}
	return nil, false
}

func mapKey(t reflect.Type, seg program.Segment) (reflect.Value, bool) {
	key := seg.Key
	if seg.IsIndex {
		key = strconv.Itoa(seg.Index)
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(key).Convert(t), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(n).Convert(t), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(key, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(n).Convert(t), true
	case reflect.Interface:
		if seg.IsIndex {
			return reflect.ValueOf(seg.Index), true
		}
		return reflect.ValueOf(key), true
	}
	return reflect.Value{}, false
}

// field finds an exported struct field by name, then by json tag, then by
// case-insensitive name.
func field(rv reflect.Value, name string) (interface{}, bool) {
	t := rv.Type()
	if sf, ok := t.FieldByName(name); ok && sf.IsExported() {
		fv, err := rv.FieldByIndexErr(sf.Index)
		if err != nil {
			return nil, false
		}
		return fv.Interface(), true
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == name {
			return rv.Field(i).Interface(), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.IsExported() && strings.EqualFold(sf.Name, name) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// indirect follows pointers and interfaces. It returns the zero Value for
// nil.
func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func sortedKeys(rv reflect.Value) []reflect.Value {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch a.Kind() {
		case reflect.String:
			return a.String() < b.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return a.Uint() < b.Uint()
		}
		return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
	})
	return keys
}
