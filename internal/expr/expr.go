// Package expr evaluates the small expression language used by mapping rules.
//
// A program is the body of a function with two parameters: d, the raw
// record being mapped, and from, the rule's resolved template. Source is
// parsed as ECMAScript, then only a constrained subset is accepted:
// declarations, assignment to locals, if/else, for...of, for...in,
// break/continue, return, literals, member access, arithmetic, comparison
// and logical operators, and a few pure string and array methods. There
// are no globals and no way to reach the host.
//
// Evaluation is bounded by a step budget and by the size of every string or
// array it builds. A program that returns false or
// falls off the end without returning produces no result.
package expr

import (
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// DefaultMaxSteps bounds evaluation when no limit is configured.
const DefaultMaxSteps = 10000

// DefaultMaxValueSize bounds string length in bytes and array length in
// elements when no limit is configured.
const DefaultMaxValueSize = 1 << 20

// Option configures a Program.
type Option func(*Program)

// WithMaxSteps sets the step budget. Non-positive values keep the default.
func WithMaxSteps(n int) Option {
	return func(p *Program) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

// WithMaxValueSize sets the largest string (in bytes) or array (in
// elements) an expression may build. Non-positive values keep the default.
func WithMaxValueSize(n int) Option {
	return func(p *Program) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// Program is a compiled expression. It is immutable and safe for
// concurrent use.
type Program struct {
	source   string
	body     execFn
	vars     []string
	maxSteps int
	maxSize  int
}

// Compile parses and checks src.
func Compile(src string, opts ...Option) (*Program, error) {
	fn, err := parse(src)
	if err != nil {
		return nil, err
	}

	c := &compiler{}
	body, err := c.block(fn.Body.List)
	if err != nil {
		return nil, err
	}

	p := &Program{
		source:   src,
		body:     body,
		vars:     c.vars,
		maxSteps: DefaultMaxSteps,
		maxSize:  DefaultMaxValueSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Source returns the program text.
func (p *Program) Source() string {
	return p.source
}

// Eval runs the program against a record. ok is false when the program
// produced the no-result sentinel (false or undefined).
func (p *Program) Eval(d ir.Record, from string) (value any, ok bool, err error) {
	f := &frame{max: p.maxSteps, maxSize: p.maxSize}
	fn := newScope(nil)
	fn.vars[ParamRecord] = &variable{value: map[string]any(d)}
	fn.vars[ParamFrom] = &variable{value: from}
	for _, name := range p.vars {
		if _, exists := fn.vars[name]; !exists {
			fn.vars[name] = &variable{value: Undefined}
		}
	}

	res, err := p.body(f, fn)
	if err != nil {
		return nil, false, err
	}
	if res.kind != ctrlReturn || isUndefined(res.value) {
		return nil, false, nil
	}
	if b, isBool := res.value.(bool); isBool && !b {
		return nil, false, nil
	}
	return export(res.value), true, nil
}

type frame struct {
	steps   int
	max     int
	maxSize int
}

func (f *frame) step() error {
	f.steps++
	if f.steps > f.max {
		return evalError(ErrStepLimit, "more than %d steps", f.max)
	}
	return nil
}

// bound fails when v is a string or array larger than the size limit.
// Operands are always within the limit, so a single concatenation or join
// can overshoot it by a bounded factor at most before being rejected.
func (f *frame) bound(v any) (any, error) {
	switch v.(type) {
	case string, []any:
	default:
		return v, nil
	}
	if n := measure(v, f.maxSize); n > f.maxSize {
		return nil, evalError(ErrResourceLimit, "value larger than %d", f.maxSize)
	}
	return v, nil
}

// measure returns the byte length of a string, or for an array its element
// count plus the size of its elements. Nested arrays may share elements, so
// the walk stops as soon as limit is passed.
func measure(v any, limit int) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []any:
		n := len(val)
		for _, elem := range val {
			if n > limit {
				break
			}
			n += measure(elem, limit-n)
		}
		return n
	}
	return 0
}

type variable struct {
	value    any
	constant bool
}

type scope struct {
	vars   map[string]*variable
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]*variable), parent: parent}
}

func (s *scope) child() *scope {
	return newScope(s)
}

func (s *scope) find(name string) *variable {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v
		}
	}
	return nil
}

func (s *scope) lookup(name string) (any, error) {
	v := s.find(name)
	if v == nil {
		return nil, evalError(ErrReference, "%s is not defined", name)
	}
	return v.value, nil
}

func (s *scope) assign(name string, value any) error {
	v := s.find(name)
	if v == nil {
		return evalError(ErrReference, "%s is not defined", name)
	}
	if v.constant {
		return evalError(ErrType, "assignment to constant %s", name)
	}
	v.value = value
	return nil
}

func (s *scope) declare(name string, value any, constant bool) error {
	if _, exists := s.vars[name]; exists {
		return evalError(ErrSyntax, "%s has already been declared", name)
	}
	s.vars[name] = &variable{value: value, constant: constant}
	return nil
}
