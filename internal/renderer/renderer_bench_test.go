package renderer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/conneroisu/vista/internal/compiler"
)

func BenchmarkRenderer_Execute(b *testing.B) {
	prog, err := compiler.New(nil).CompileString(
		`<h1>{{ title|upper }}</h1>{% foreach items %}<li>{{ loop_index }} {{ loop_value }}</li>{% end %}`)
	if err != nil {
		b.Fatal(err)
	}
	r := New(nil)
	data := map[string]interface{}{
		"title": "Benchmark",
		"items": []string{"a", "b", "c", "d", "e"},
	}

	b.ResetTimer()
	for range b.N {
		if _, err := r.Execute(prog, data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRenderer_LargeLoop(b *testing.B) {
	prog, err := compiler.New(nil).CompileString(
		`{% foreach rows %}<tr>{% if loop_value.active %}<td>{{ loop_value.name }}</td>{% end %}</tr>{% end %}`)
	if err != nil {
		b.Fatal(err)
	}
	rows := make([]map[string]interface{}, 1000)
	for i := range rows {
		rows[i] = map[string]interface{}{"name": fmt.Sprintf("row-%d", i), "active": i%2 == 0}
	}
	data := map[string]interface{}{"rows": rows}
	r := New(nil)

	b.ResetTimer()
	for range b.N {
		if _, err := r.Execute(prog, data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRenderer_Escape(b *testing.B) {
	prog, err := compiler.New(nil).CompileString(`{{ body }}`)
	if err != nil {
		b.Fatal(err)
	}
	data := map[string]string{"body": strings.Repeat(`<a href="x">&'</a>`, 100)}
	r := New(nil)

	b.ResetTimer()
	for range b.N {
		if _, err := r.Execute(prog, data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRenderer_Concurrent(b *testing.B) {
	prog, err := compiler.New(nil).CompileString(`{% foreach items %}{{ loop_value|title }}{% end %}`)
	if err != nil {
		b.Fatal(err)
	}
	data := map[string][]string{"items": {"one", "two", "three"}}
	r := New(nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := r.Execute(prog, data); err != nil {
				b.Error(err)
			}
		}
	})
}
