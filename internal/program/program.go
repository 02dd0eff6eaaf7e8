// Package program defines the compiled form of a template: a flat list of
// literal text segments and typed directives, plus the codecs used to
// persist it in the artifact cache.
//
// Block directives do not nest as a tree. A foreach or if node records the
// index of its matching end node in Jump, so an interpreter can execute the
// body as the half-open range (i, Jump).
package program

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FormatVersion is bumped whenever the node layout changes. Artifacts with
// a different version are treated as corrupt and recompiled.
const FormatVersion = 1

// NodeKind identifies a node in the directive list.
type NodeKind string

const (
	KindText    NodeKind = "text"
	KindPrint   NodeKind = "print"
	KindForeach NodeKind = "foreach"
	KindIf      NodeKind = "if"
	KindEnd     NodeKind = "end"
)

// PrintMode selects how a print directive writes its value.
type PrintMode string

const (
	// ModeEscape HTML-escapes the value.
	ModeEscape PrintMode = "escape"
	// ModeRaw writes the value unescaped.
	ModeRaw PrintMode = "raw"
	// ModePipeline runs the value through Pipeline and writes the result
	// unescaped.
	ModePipeline PrintMode = "pipeline"
)

// CondOp is the operator of an if directive.
type CondOp string

const (
	OpTruthy CondOp = "truthy"
	OpEqual  CondOp = "eq"
)

// Program is a compiled template.
type Program struct {
	Version    int    `json:"version"`
	SourceHash string `json:"source_hash"`
	Nodes      []Node `json:"nodes"`
}

// Node is a literal text segment or a directive.
type Node struct {
	Kind     NodeKind   `json:"kind"`
	Line     int        `json:"line,omitempty"`
	Text     string     `json:"text,omitempty"`
	Tag      string     `json:"tag,omitempty"`
	Path     Path       `json:"path,omitempty"`
	Mode     PrintMode  `json:"mode,omitempty"`
	Pipeline []Call     `json:"pipeline,omitempty"`
	Cond     *Condition `json:"cond,omitempty"`
	Jump     int        `json:"jump,omitempty"`
}

// Call is one filter invocation in a pipeline.
type Call struct {
	Filter string `json:"filter"`
	Args   []Arg  `json:"args"`
}

// Arg is a filter argument: either the piped value or a literal.
type Arg struct {
	Piped   bool     `json:"piped,omitempty"`
	Literal *Literal `json:"literal,omitempty"`
}

// Condition is the test of an if directive.
type Condition struct {
	Op      CondOp   `json:"op"`
	Literal *Literal `json:"literal,omitempty"`
}

// LiteralKind is the type of a literal written in a template.
type LiteralKind string

const (
	LiteralString LiteralKind = "string"
	LiteralInt    LiteralKind = "int"
	LiteralFloat  LiteralKind = "float"
	LiteralBool   LiteralKind = "bool"
	LiteralNull   LiteralKind = "null"
)

// Literal is stored in canonical text form so artifacts stay byte-stable
// across codecs.
type Literal struct {
	Kind LiteralKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

// Value returns the literal as a Go value: string, int64, float64, bool or
// nil.
func (l *Literal) Value() (interface{}, error) {
	switch l.Kind {
	case LiteralString:
		return l.Text, nil
	case LiteralInt:
		return strconv.ParseInt(l.Text, 10, 64)
	case LiteralFloat:
		return strconv.ParseFloat(l.Text, 64)
	case LiteralBool:
		return strconv.ParseBool(l.Text)
	case LiteralNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown literal kind %q", l.Kind)
	}
}

// String renders the literal the way it would be written in a template.
func (l *Literal) String() string {
	switch l.Kind {
	case LiteralString:
		return strconv.Quote(l.Text)
	case LiteralNull:
		return "null"
	default:
		return l.Text
	}
}

// Segment is one step of a field path: a key or an integer index.
type Segment struct {
	Key     string `json:"key,omitempty"`
	Index   int    `json:"index,omitempty"`
	IsIndex bool   `json:"is_index,omitempty"`
}

// Path addresses a value in the render context.
type Path []Segment

// String renders the path in dotted form, with indexes in brackets.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		switch {
		case seg.IsIndex:
			fmt.Fprintf(&b, "[%d]", seg.Index)
		case i == 0:
			b.WriteString(seg.Key)
		default:
			b.WriteByte('.')
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

// Hash returns the fingerprint stored in SourceHash.
func Hash(source []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(source))
}

// Validate checks the structural invariants of the node list: every block
// opener jumps forward to an end node, and every end node is claimed by
// exactly one opener.
func (p *Program) Validate() error {
	if p.Version != FormatVersion {
		return fmt.Errorf("artifact format version %d, want %d", p.Version, FormatVersion)
	}
	claimed := make(map[int]bool)
	for i, n := range p.Nodes {
		switch n.Kind {
		case KindText, KindPrint, KindEnd:
		case KindForeach, KindIf:
			if n.Jump <= i || n.Jump >= len(p.Nodes) || p.Nodes[n.Jump].Kind != KindEnd {
				return fmt.Errorf("node %d: %s jumps to %d, which is not an end", i, n.Kind, n.Jump)
			}
			if claimed[n.Jump] {
				return fmt.Errorf("node %d: end %d already closes another block", i, n.Jump)
			}
			claimed[n.Jump] = true
		default:
			return fmt.Errorf("node %d: unknown kind %q", i, n.Kind)
		}
	}
	for i, n := range p.Nodes {
		if n.Kind == KindEnd && !claimed[i] {
			return fmt.Errorf("node %d: end without an opening block", i)
		}
	}
	return nil
}
