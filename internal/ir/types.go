package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind discriminates the shape of a Type.
type TypeKind int

const (
	VoidKind TypeKind = iota
	IntKind
	PointerKind
	ArrayKind
	StructKind
	VectorKind
	FunctionKind
	OpaqueKind
	LabelKind
)

// PointerSize is the store size of every pointer, in bytes.
const PointerSize = 8

// Type describes the type of an IR value.
//
// Types are compared structurally with Equal; the shared singletons below are
// a convenience, not an identity requirement.
type Type struct {
	Kind     TypeKind
	Bits     int     // IntKind
	Elem     *Type   // PointerKind, ArrayKind, VectorKind; return type for FunctionKind
	Len      int64   // ArrayKind, VectorKind
	Fields   []*Type // StructKind; parameter types for FunctionKind
	Variadic bool    // FunctionKind
}

var (
	Void   = &Type{Kind: VoidKind}
	Label  = &Type{Kind: LabelKind}
	Opaque = &Type{Kind: OpaqueKind}
	I1     = IntType(1)
	I8     = IntType(8)
	I32    = IntType(32)
	I64    = IntType(64)
	I8Ptr  = PointerTo(I8)
)

// IntType returns an integer type of the given bit width.
func IntType(bits int) *Type { return &Type{Kind: IntKind, Bits: bits} }

// PointerTo returns a pointer type to elem.
func PointerTo(elem *Type) *Type { return &Type{Kind: PointerKind, Elem: elem} }

// ArrayOf returns an array type of n elements.
func ArrayOf(n int64, elem *Type) *Type { return &Type{Kind: ArrayKind, Len: n, Elem: elem} }

// VectorOf returns a vector type of n elements.
func VectorOf(n int64, elem *Type) *Type { return &Type{Kind: VectorKind, Len: n, Elem: elem} }

// StructOf returns a literal struct type.
func StructOf(fields ...*Type) *Type { return &Type{Kind: StructKind, Fields: fields} }

// FuncOf returns a function type.
func FuncOf(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Kind: FunctionKind, Elem: ret, Fields: params, Variadic: variadic}
}

// IsPointer reports whether t is a pointer type.
func (t *Type) IsPointer() bool { return t != nil && t.Kind == PointerKind }

// IsPointerVector reports whether t is a vector of pointers.
func (t *Type) IsPointerVector() bool {
	return t != nil && t.Kind == VectorKind && t.Elem.IsPointer()
}

// Sized reports whether values of t have a known store size.
func (t *Type) Sized() bool {
	switch t.Kind {
	case IntKind, PointerKind:
		return true
	case ArrayKind, VectorKind:
		return t.Elem.Sized()
	case StructKind:
		for _, f := range t.Fields {
			if !f.Sized() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// StoreSize returns the number of bytes written when storing a value of t.
// Struct fields are packed without padding. Unsized types report 0.
func (t *Type) StoreSize() int64 {
	switch t.Kind {
	case IntKind:
		return int64((t.Bits + 7) / 8)
	case PointerKind:
		return PointerSize
	case ArrayKind, VectorKind:
		return t.Len * t.Elem.StoreSize()
	case StructKind:
		var n int64
		for _, f := range t.Fields {
			n += f.StoreSize()
		}
		return n
	default:
		return 0
	}
}

// Equal reports structural equality.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case IntKind:
		return t.Bits == o.Bits
	case PointerKind:
		return t.Elem.Equal(o.Elem)
	case ArrayKind, VectorKind:
		return t.Len == o.Len && t.Elem.Equal(o.Elem)
	case StructKind, FunctionKind:
		if len(t.Fields) != len(o.Fields) || t.Variadic != o.Variadic {
			return false
		}
		if t.Kind == FunctionKind && !t.Elem.Equal(o.Elem) {
			return false
		}
		for i := range t.Fields {
			if !t.Fields[i].Equal(o.Fields[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case VoidKind:
		return "void"
	case LabelKind:
		return "label"
	case OpaqueKind:
		return "opaque"
	case IntKind:
		return "i" + strconv.Itoa(t.Bits)
	case PointerKind:
		return t.Elem.String() + "*"
	case ArrayKind:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case VectorKind:
		return fmt.Sprintf("<%d x %s>", t.Len, t.Elem)
	case StructKind:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case FunctionKind:
		parts := make([]string, 0, len(t.Fields)+1)
		for _, f := range t.Fields {
			parts = append(parts, f.String())
		}
		if t.Variadic {
			parts = append(parts, "...")
		}
		return fmt.Sprintf("%s (%s)", t.Elem, strings.Join(parts, ", "))
	}
	return "?"
}

// ParseType parses the textual type syntax used by module files:
//
//	i32  i8*  [4 x i32]  <2 x i8*>  {i8*, i64}  i8* (i64, ...)  opaque  void
func ParseType(s string) (*Type, error) {
	p := &typeParser{src: s}
	t, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parse type %q: %w", s, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("parse type %q: trailing input at offset %d", s, p.pos)
	}
	return t, nil
}

// MustParseType is ParseType for literals known to be valid.
func MustParseType(s string) *Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *typeParser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parse() (*Type, error) {
	base, err := p.parseBase()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			base = PointerTo(base)
		case '(':
			p.pos++
			base, err = p.parseParams(base)
			if err != nil {
				return nil, err
			}
		default:
			return base, nil
		}
	}
}

func (p *typeParser) parseParams(ret *Type) (*Type, error) {
	var params []*Type
	variadic := false
	if p.peek() == ')' {
		p.pos++
		return FuncOf(ret, params, false), nil
	}
	for {
		p.skipSpace()
		if strings.HasPrefix(p.src[p.pos:], "...") {
			p.pos += 3
			variadic = true
		} else {
			t, err := p.parse()
			if err != nil {
				return nil, err
			}
			params = append(params, t)
		}
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return FuncOf(ret, params, variadic), nil
		default:
			return nil, fmt.Errorf("expected ',' or ')' at offset %d", p.pos)
		}
	}
}

func (p *typeParser) parseBase() (*Type, error) {
	switch c := p.peek(); c {
	case '[', '<':
		p.pos++
		n, err := strconv.ParseInt(p.word(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad element count: %w", err)
		}
		if p.word() != "x" {
			return nil, fmt.Errorf("expected 'x' at offset %d", p.pos)
		}
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		if c == '[' {
			return ArrayOf(n, elem), p.expect(']')
		}
		return VectorOf(n, elem), p.expect('>')
	case '{':
		p.pos++
		var fields []*Type
		if p.peek() == '}' {
			p.pos++
			return StructOf(), nil
		}
		for {
			f, err := p.parse()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			if p.peek() == ',' {
				p.pos++
				continue
			}
			return StructOf(fields...), p.expect('}')
		}
	}
	w := p.word()
	switch {
	case w == "void":
		return Void, nil
	case w == "opaque":
		return Opaque, nil
	case w == "label":
		return Label, nil
	case len(w) > 1 && w[0] == 'i':
		bits, err := strconv.Atoi(w[1:])
		if err != nil || bits <= 0 {
			return nil, fmt.Errorf("bad integer type %q", w)
		}
		return IntType(bits), nil
	case w == "":
		return nil, fmt.Errorf("expected type at offset %d", p.pos)
	}
	return nil, fmt.Errorf("unknown type %q", w)
}
