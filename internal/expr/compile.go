package expr

import (
	"math"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// Parameter names bound for every program.
const (
	ParamRecord = "d"
	ParamFrom   = "from"
)

type evalFn func(*frame, *scope) (any, error)

type ctrl int

const (
	ctrlNormal ctrl = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
)

type completion struct {
	kind  ctrl
	value any
}

type execFn func(*frame, *scope) (completion, error)

type compiler struct {
	vars      []string
	loopDepth int
}

func parse(src string) (*ast.FunctionLiteral, error) {
	fn, err := parser.ParseFunction(ParamRecord+", "+ParamFrom, src)
	if err != nil {
		return nil, compileError(ErrSyntax, "%v", err)
	}
	return fn, nil
}

func (c *compiler) declareVar(name string) {
	for _, v := range c.vars {
		if v == name {
			return
		}
	}
	c.vars = append(c.vars, name)
}

func (c *compiler) block(list []ast.Statement) (execFn, error) {
	stmts := make([]execFn, 0, len(list))
	for _, s := range list {
		fn, err := c.statement(s)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fn)
	}
	return func(f *frame, sc *scope) (completion, error) {
		for _, stmt := range stmts {
			res, err := stmt(f, sc)
			if err != nil || res.kind != ctrlNormal {
				return res, err
			}
		}
		return completion{}, nil
	}, nil
}

func (c *compiler) statement(s ast.Statement) (execFn, error) {
	switch n := s.(type) {
	case *ast.EmptyStatement:
		return func(*frame, *scope) (completion, error) { return completion{}, nil }, nil

	case *ast.BlockStatement:
		body, err := c.block(n.List)
		if err != nil {
			return nil, err
		}
		return func(f *frame, sc *scope) (completion, error) {
			if err := f.step(); err != nil {
				return completion{}, err
			}
			return body(f, sc.child())
		}, nil

	case *ast.ExpressionStatement:
		e, err := c.expression(n.Expression)
		if err != nil {
			return nil, err
		}
		return func(f *frame, sc *scope) (completion, error) {
			if err := f.step(); err != nil {
				return completion{}, err
			}
			_, err := e(f, sc)
			return completion{}, err
		}, nil

	case *ast.VariableStatement:
		return c.declarations(n.List, declVar)

	case *ast.LexicalDeclaration:
		kind := declLet
		if n.Token == token.CONST {
			kind = declConst
		}
		return c.declarations(n.List, kind)

	case *ast.ReturnStatement:
		if n.Argument == nil {
			return func(f *frame, _ *scope) (completion, error) {
				if err := f.step(); err != nil {
					return completion{}, err
				}
				return completion{kind: ctrlReturn, value: Undefined}, nil
			}, nil
		}
		arg, err := c.expression(n.Argument)
		if err != nil {
			return nil, err
		}
		return func(f *frame, sc *scope) (completion, error) {
			if err := f.step(); err != nil {
				return completion{}, err
			}
			v, err := arg(f, sc)
			if err != nil {
				return completion{}, err
			}
			return completion{kind: ctrlReturn, value: v}, nil
		}, nil

	case *ast.IfStatement:
		return c.ifStatement(n)

	case *ast.ForOfStatement:
		return c.loop(n.Into, n.Source, n.Body, iterate)

	case *ast.ForInStatement:
		return c.loop(n.Into, n.Source, n.Body, keys)

	case *ast.BranchStatement:
		if n.Label != nil {
			return nil, compileError(ErrUnsupported, "labelled %s", n.Token)
		}
		if c.loopDepth == 0 {
			return nil, compileError(ErrSyntax, "%s outside of a loop", n.Token)
		}
		kind := ctrlBreak
		if n.Token == token.CONTINUE {
			kind = ctrlContinue
		}
		return func(f *frame, _ *scope) (completion, error) {
			if err := f.step(); err != nil {
				return completion{}, err
			}
			return completion{kind: kind}, nil
		}, nil
	}

	return nil, compileError(ErrUnsupported, "statement %T", s)
}

type declKind int

const (
	declVar declKind = iota
	declLet
	declConst
)

func (c *compiler) declarations(list []*ast.Binding, kind declKind) (execFn, error) {
	type decl struct {
		name string
		init evalFn
	}
	decls := make([]decl, 0, len(list))
	for _, b := range list {
		id, ok := b.Target.(*ast.Identifier)
		if !ok {
			return nil, compileError(ErrUnsupported, "destructuring declaration")
		}
		d := decl{name: id.Name.String()}
		if b.Initializer != nil {
			init, err := c.expression(b.Initializer)
			if err != nil {
				return nil, err
			}
			d.init = init
		} else if kind == declConst {
			return nil, compileError(ErrSyntax, "missing initializer in const declaration %q", d.name)
		}
		if kind == declVar {
			c.declareVar(d.name)
		}
		decls = append(decls, d)
	}

	return func(f *frame, sc *scope) (completion, error) {
		if err := f.step(); err != nil {
			return completion{}, err
		}
		for _, d := range decls {
			v := Undefined
			if d.init != nil {
				var err error
				if v, err = d.init(f, sc); err != nil {
					return completion{}, err
				}
			}
			switch kind {
			case declVar:
				if d.init == nil {
					continue
				}
				if err := sc.assign(d.name, v); err != nil {
					return completion{}, err
				}
			default:
				if err := sc.declare(d.name, v, kind == declConst); err != nil {
					return completion{}, err
				}
			}
		}
		return completion{}, nil
	}, nil
}

func (c *compiler) ifStatement(n *ast.IfStatement) (execFn, error) {
	test, err := c.expression(n.Test)
	if err != nil {
		return nil, err
	}
	cons, err := c.statement(n.Consequent)
	if err != nil {
		return nil, err
	}
	var alt execFn
	if n.Alternate != nil {
		if alt, err = c.statement(n.Alternate); err != nil {
			return nil, err
		}
	}
	return func(f *frame, sc *scope) (completion, error) {
		if err := f.step(); err != nil {
			return completion{}, err
		}
		v, err := test(f, sc)
		if err != nil {
			return completion{}, err
		}
		if truthy(v) {
			return cons(f, sc)
		}
		if alt != nil {
			return alt(f, sc)
		}
		return completion{}, nil
	}, nil
}

// loop compiles for...of and for...in. values yields the iteration sequence.
func (c *compiler) loop(into ast.ForInto, source ast.Expression, body ast.Statement, values func(any) ([]any, error)) (execFn, error) {
	bind, err := c.loopBinding(into)
	if err != nil {
		return nil, err
	}
	src, err := c.expression(source)
	if err != nil {
		return nil, err
	}
	c.loopDepth++
	stmt, err := c.statement(body)
	c.loopDepth--
	if err != nil {
		return nil, err
	}

	return func(f *frame, sc *scope) (completion, error) {
		if err := f.step(); err != nil {
			return completion{}, err
		}
		coll, err := src(f, sc)
		if err != nil {
			return completion{}, err
		}
		items, err := values(coll)
		if err != nil {
			return completion{}, err
		}
		for _, item := range items {
			if err := f.step(); err != nil {
				return completion{}, err
			}
			iter := sc.child()
			if err := bind(iter, item); err != nil {
				return completion{}, err
			}
			res, err := stmt(f, iter)
			if err != nil {
				return completion{}, err
			}
			switch res.kind {
			case ctrlReturn:
				return res, nil
			case ctrlBreak:
				return completion{}, nil
			}
		}
		return completion{}, nil
	}, nil
}

func (c *compiler) loopBinding(into ast.ForInto) (func(*scope, any) error, error) {
	switch n := into.(type) {
	case *ast.ForIntoVar:
		id, ok := n.Binding.Target.(*ast.Identifier)
		if !ok || n.Binding.Initializer != nil {
			return nil, compileError(ErrUnsupported, "loop binding")
		}
		name := id.Name.String()
		c.declareVar(name)
		return func(sc *scope, v any) error { return sc.assign(name, v) }, nil

	case *ast.ForDeclaration:
		id, ok := n.Target.(*ast.Identifier)
		if !ok {
			return nil, compileError(ErrUnsupported, "destructuring loop binding")
		}
		name, constant := id.Name.String(), n.IsConst
		return func(sc *scope, v any) error { return sc.declare(name, v, constant) }, nil

	case *ast.ForIntoExpression:
		id, ok := n.Expression.(*ast.Identifier)
		if !ok {
			return nil, compileError(ErrUnsupported, "loop target %T", n.Expression)
		}
		name := id.Name.String()
		return func(sc *scope, v any) error { return sc.assign(name, v) }, nil
	}
	return nil, compileError(ErrUnsupported, "loop binding %T", into)
}

func (c *compiler) expression(e ast.Expression) (evalFn, error) {
	switch n := e.(type) {
	case *ast.StringLiteral:
		v := n.Value.String()
		return constant(v), nil

	case *ast.NumberLiteral:
		switch num := n.Value.(type) {
		case int64:
			return constant(float64(num)), nil
		case float64:
			return constant(num), nil
		}
		return nil, compileError(ErrUnsupported, "number literal %s", n.Literal)

	case *ast.BooleanLiteral:
		return constant(n.Value), nil

	case *ast.NullLiteral:
		return constant(nil), nil

	case *ast.Identifier:
		name := n.Name.String()
		switch name {
		case "undefined":
			return constant(Undefined), nil
		case "NaN":
			return constant(math.NaN()), nil
		case "Infinity":
			return constant(math.Inf(1)), nil
		}
		return func(_ *frame, sc *scope) (any, error) {
			return sc.lookup(name)
		}, nil

	case *ast.ArrayLiteral:
		elems := make([]evalFn, len(n.Value))
		for i, el := range n.Value {
			if el == nil {
				elems[i] = constant(Undefined)
				continue
			}
			fn, err := c.expression(el)
			if err != nil {
				return nil, err
			}
			elems[i] = fn
		}
		return func(f *frame, sc *scope) (any, error) {
			out := make([]any, len(elems))
			for i, el := range elems {
				v, err := el(f, sc)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return f.bound(out)
		}, nil

	case *ast.DotExpression:
		obj, err := c.expression(n.Left)
		if err != nil {
			return nil, err
		}
		name := n.Identifier.Name.String()
		return func(f *frame, sc *scope) (any, error) {
			o, err := obj(f, sc)
			if err != nil {
				return nil, err
			}
			return getMember(o, name)
		}, nil

	case *ast.BracketExpression:
		obj, err := c.expression(n.Left)
		if err != nil {
			return nil, err
		}
		member, err := c.expression(n.Member)
		if err != nil {
			return nil, err
		}
		return func(f *frame, sc *scope) (any, error) {
			o, err := obj(f, sc)
			if err != nil {
				return nil, err
			}
			k, err := member(f, sc)
			if err != nil {
				return nil, err
			}
			return getMember(o, k)
		}, nil

	case *ast.BinaryExpression:
		return c.binary(n)

	case *ast.UnaryExpression:
		return c.unary(n)

	case *ast.ConditionalExpression:
		test, err := c.expression(n.Test)
		if err != nil {
			return nil, err
		}
		cons, err := c.expression(n.Consequent)
		if err != nil {
			return nil, err
		}
		alt, err := c.expression(n.Alternate)
		if err != nil {
			return nil, err
		}
		return func(f *frame, sc *scope) (any, error) {
			v, err := test(f, sc)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return cons(f, sc)
			}
			return alt(f, sc)
		}, nil

	case *ast.AssignExpression:
		return c.assign(n)

	case *ast.CallExpression:
		return c.call(n)
	}

	return nil, compileError(ErrUnsupported, "expression %T", e)
}

func constant(v any) evalFn {
	return func(*frame, *scope) (any, error) { return v, nil }
}

func (c *compiler) binary(n *ast.BinaryExpression) (evalFn, error) {
	left, err := c.expression(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.expression(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case token.LOGICAL_AND, token.LOGICAL_OR, token.COALESCE:
		op := n.Operator
		return func(f *frame, sc *scope) (any, error) {
			l, err := left(f, sc)
			if err != nil {
				return nil, err
			}
			switch {
			case op == token.LOGICAL_AND && !truthy(l),
				op == token.LOGICAL_OR && truthy(l),
				op == token.COALESCE && !isNullish(l):
				return l, nil
			}
			return right(f, sc)
		}, nil
	}

	apply, err := binaryOperator(n.Operator)
	if err != nil {
		return nil, err
	}
	return func(f *frame, sc *scope) (any, error) {
		l, err := left(f, sc)
		if err != nil {
			return nil, err
		}
		r, err := right(f, sc)
		if err != nil {
			return nil, err
		}
		return f.bound(apply(l, r))
	}, nil
}

func binaryOperator(op token.Token) (func(a, b any) any, error) {
	switch op {
	case token.PLUS:
		return add, nil
	case token.MINUS:
		return func(a, b any) any { return toNumber(a) - toNumber(b) }, nil
	case token.MULTIPLY:
		return func(a, b any) any { return toNumber(a) * toNumber(b) }, nil
	case token.SLASH:
		return func(a, b any) any { return toNumber(a) / toNumber(b) }, nil
	case token.REMAINDER:
		return func(a, b any) any { return math.Mod(toNumber(a), toNumber(b)) }, nil
	case token.EXPONENT:
		return func(a, b any) any { return math.Pow(toNumber(a), toNumber(b)) }, nil
	case token.EQUAL:
		return func(a, b any) any { return looseEquals(a, b) }, nil
	case token.NOT_EQUAL:
		return func(a, b any) any { return !looseEquals(a, b) }, nil
	case token.STRICT_EQUAL:
		return func(a, b any) any { return strictEquals(a, b) }, nil
	case token.STRICT_NOT_EQUAL:
		return func(a, b any) any { return !strictEquals(a, b) }, nil
	case token.LESS:
		return func(a, b any) any { less, _, ok := compare(a, b); return ok && less }, nil
	case token.LESS_OR_EQUAL:
		return func(a, b any) any { less, eq, ok := compare(a, b); return ok && (less || eq) }, nil
	case token.GREATER:
		return func(a, b any) any { less, eq, ok := compare(a, b); return ok && !less && !eq }, nil
	case token.GREATER_OR_EQUAL:
		return func(a, b any) any { less, _, ok := compare(a, b); return ok && !less }, nil
	}
	return nil, compileError(ErrUnsupported, "operator %s", op)
}

func add(a, b any) any {
	_, aStr := a.(string)
	_, bStr := b.(string)
	_, aArr := a.([]any)
	_, bArr := b.([]any)
	_, aObj := asObject(a)
	_, bObj := asObject(b)
	if aStr || bStr || aArr || bArr || aObj || bObj {
		return toString(a) + toString(b)
	}
	return toNumber(a) + toNumber(b)
}

func (c *compiler) unary(n *ast.UnaryExpression) (evalFn, error) {
	if n.Operator == token.INCREMENT || n.Operator == token.DECREMENT {
		id, ok := n.Operand.(*ast.Identifier)
		if !ok {
			return nil, compileError(ErrUnsupported, "%s on %T", n.Operator, n.Operand)
		}
		name, delta, postfix := id.Name.String(), 1.0, n.Postfix
		if n.Operator == token.DECREMENT {
			delta = -1
		}
		return func(_ *frame, sc *scope) (any, error) {
			old, err := sc.lookup(name)
			if err != nil {
				return nil, err
			}
			oldNum := toNumber(old)
			if err := sc.assign(name, oldNum+delta); err != nil {
				return nil, err
			}
			if postfix {
				return oldNum, nil
			}
			return oldNum + delta, nil
		}, nil
	}

	operand, err := c.expression(n.Operand)
	if err != nil {
		return nil, err
	}
	var apply func(any) any
	switch n.Operator {
	case token.NOT:
		apply = func(v any) any { return !truthy(v) }
	case token.MINUS:
		apply = func(v any) any { return -toNumber(v) }
	case token.PLUS:
		apply = func(v any) any { return toNumber(v) }
	case token.TYPEOF:
		// typeof tolerates undeclared identifiers
		if id, ok := n.Operand.(*ast.Identifier); ok {
			name := id.Name.String()
			return func(f *frame, sc *scope) (any, error) {
				v, err := sc.lookup(name)
				if err != nil {
					return "undefined", nil
				}
				return typeOf(v), nil
			}, nil
		}
		apply = func(v any) any { return typeOf(v) }
	default:
		return nil, compileError(ErrUnsupported, "unary operator %s", n.Operator)
	}
	return func(f *frame, sc *scope) (any, error) {
		v, err := operand(f, sc)
		if err != nil {
			return nil, err
		}
		return apply(v), nil
	}, nil
}

func (c *compiler) assign(n *ast.AssignExpression) (evalFn, error) {
	id, ok := n.Left.(*ast.Identifier)
	if !ok {
		return nil, compileError(ErrUnsupported, "assignment to %T", n.Left)
	}
	name := id.Name.String()
	right, err := c.expression(n.Right)
	if err != nil {
		return nil, err
	}

	var combine func(a, b any) any
	if n.Operator != token.ASSIGN {
		if combine, err = binaryOperator(n.Operator); err != nil {
			return nil, err
		}
	}

	return func(f *frame, sc *scope) (any, error) {
		v, err := right(f, sc)
		if err != nil {
			return nil, err
		}
		if combine != nil {
			old, err := sc.lookup(name)
			if err != nil {
				return nil, err
			}
			if v, err = f.bound(combine(old, v)); err != nil {
				return nil, err
			}
		}
		if err := sc.assign(name, v); err != nil {
			return nil, err
		}
		return v, nil
	}, nil
}

func (c *compiler) call(n *ast.CallExpression) (evalFn, error) {
	args := make([]evalFn, len(n.ArgumentList))
	for i, a := range n.ArgumentList {
		fn, err := c.expression(a)
		if err != nil {
			return nil, err
		}
		args[i] = fn
	}
	evalArgs := func(f *frame, sc *scope) ([]any, error) {
		out := make([]any, len(args))
		for i, a := range args {
			v, err := a(f, sc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	switch callee := n.Callee.(type) {
	case *ast.Identifier:
		name := callee.Name.String()
		fn, ok := builtins[name]
		if !ok {
			return nil, compileError(ErrUnsupported, "call to %s", name)
		}
		return func(f *frame, sc *scope) (any, error) {
			vals, err := evalArgs(f, sc)
			if err != nil {
				return nil, err
			}
			return f.bound(fn(vals))
		}, nil

	case *ast.DotExpression:
		name := callee.Identifier.Name.String()
		if !knownMethod(name) {
			return nil, compileError(ErrUnsupported, "method %s", name)
		}
		recv, err := c.expression(callee.Left)
		if err != nil {
			return nil, err
		}
		return func(f *frame, sc *scope) (any, error) {
			r, err := recv(f, sc)
			if err != nil {
				return nil, err
			}
			vals, err := evalArgs(f, sc)
			if err != nil {
				return nil, err
			}
			v, err := callMethod(r, name, vals)
			if err != nil {
				return nil, err
			}
			return f.bound(v)
		}, nil
	}

	return nil, compileError(ErrUnsupported, "call of %T", n.Callee)
}
