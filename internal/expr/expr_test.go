package expr

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

func eval(t *testing.T, src string, d ir.Record) (any, bool) {
	t.Helper()
	p, err := Compile(src)
	require.NoError(t, err)
	v, ok, err := p.Eval(d, "")
	require.NoError(t, err)
	return v, ok
}

func TestEvalPriceSelection(t *testing.T) {
	src := `for (const p of d.Price) { if (p.TicketType == 'Normaal') return p.Price; } return false;`
	d := ir.Record{
		"Price": []any{
			map[string]any{"TicketType": "Student", "Price": json.Number("10.00")},
			map[string]any{"TicketType": "Normaal", "Price": json.Number("12.50")},
		},
	}

	v, ok := eval(t, src, d)
	assert.True(t, ok)
	assert.Equal(t, json.Number("12.50"), v)

	d["Price"] = []any{map[string]any{"TicketType": "Student", "Price": 10}}
	_, ok = eval(t, src, d)
	assert.False(t, ok, "false is the no-result sentinel")
}

func TestEvalSentinels(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		want   any
		wantOK bool
	}{
		{"explicit false", "return false;", nil, false},
		{"undefined", "return undefined;", nil, false},
		{"bare return", "return;", nil, false},
		{"no return", "var x = 1;", nil, false},
		{"null is a value", "return null;", nil, true},
		{"zero is a value", "return 0;", 0.0, true},
		{"empty string is a value", "return '';", "", true},
		{"true", "return true;", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := eval(t, tt.src, ir.Record{})
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestEvalOperators(t *testing.T) {
	d := ir.Record{
		"n":     json.Number("5"),
		"s":     "Gig",
		"flag":  "true",
		"items": []any{"a", "b", "c"},
		"obj":   map[string]any{"k": "v"},
	}

	tests := []struct {
		src  string
		want any
	}{
		{"return d.n + 1;", 6.0},
		{"return d.n * 2 - 3;", 7.0},
		{"return d.n % 2;", 1.0},
		{"return 2 ** 3;", 8.0},
		{"return d.s + '!';", "Gig!"},
		{"return 'n=' + d.n;", "n=5"},
		{"return d.n == '5';", true},
		{"return d.n === '5';", false},
		{"return d.n === 5;", true},
		{"return d.n != 4;", true},
		{"return d.n !== 5;", false},
		{"return d.n > 4 && d.n <= 5;", true},
		{"return d.s < 'H';", true},
		{"return d.missing ?? 'fallback';", "fallback"},
		{"return d.s || 'x';", "Gig"},
		{"return d.missing && 'x';", nil},
		{"return !d.missing;", true},
		{"return -d.n;", -5.0},
		{"return +'3';", 3.0},
		{"return d.flag == 'true' ? 'yes' : 'no';", "yes"},
		{"return typeof d.s;", "string"},
		{"return typeof d.missing;", "undefined"},
		{"return typeof nothing;", "undefined"},
		{"return d.items.length;", 3.0},
		{"return d.items[1];", "b"},
		{"return d['s'];", "Gig"},
		{"return d.obj.k;", "v"},
		{"return d.s.length;", 3.0},
		{"return null == undefined;", true},
		{"return null === undefined;", false},
		{"return [1, 'x'];", []any{1.0, "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			v, ok, err := mustCompile(t, tt.src).Eval(d, "")
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, v)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	p, err := Compile(src)
	require.NoError(t, err)
	return p
}

func TestEvalStatements(t *testing.T) {
	d := ir.Record{
		"items": []any{json.Number("1"), json.Number("2"), json.Number("3"), json.Number("4")},
		"obj":   map[string]any{"b": 2, "a": 1},
	}

	tests := []struct {
		name string
		src  string
		want any
	}{
		{"sum with let", "let s = 0; for (const x of d.items) { s += x; } return s;", 10.0},
		{"var hoisting", "x = 3; var x; return x;", 3.0},
		{"continue", "let s = 0; for (const x of d.items) { if (x % 2) continue; s = s + x; } return s;", 6.0},
		{"break", "let last; for (const x of d.items) { last = x; if (x >= 2) break; } return last;", json.Number("2")},
		{"for in sorted keys", "let ks = ''; for (const k in d.obj) { ks += k; } return ks;", "ab"},
		{"for var of", "for (var x of d.items) {} return x;", json.Number("4")},
		{"if else chain", "if (d.items.length > 10) { return 'big'; } else if (d.items.length > 2) { return 'mid'; } else { return 'small'; }", "mid"},
		{"increment", "let i = 0; i++; ++i; return i;", 2.0},
		{"block scope", "let a = 1; { let a = 2; } return a;", 1.0},
		{"string methods", "return '  Mixed '.trim().toLowerCase();", "mixed"},
		{"includes", "return d.items.includes(undefined) || 'abc'.includes('b');", true},
		{"join", "return ['a', 'b'].join('-');", "a-b"},
		{"split", "return 'a,b'.split(',').length;", 2.0},
		{"startsWith", "return 'Normaal'.startsWith('Norm');", true},
		{"builtins", "return String(1) + Number('2') + Boolean('x');", "12true"},
		{"from binding", "return from + '!';", "raw!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok, err := mustCompile(t, tt.src).Eval(d, "raw")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestCompileRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
	}{
		{"syntax", "return (;", ErrSyntax},
		{"function call", "return eval('1');", ErrUnsupported},
		{"function literal", "return function() { return 1; };", ErrUnsupported},
		{"while loop", "while (true) {}", ErrUnsupported},
		{"object literal", "return {a: 1};", ErrUnsupported},
		{"member assignment", "d.x = 1;", ErrUnsupported},
		{"new", "return new Date();", ErrUnsupported},
		{"unknown method", "return d.constructor();", ErrUnsupported},
		{"break outside loop", "break;", ErrSyntax},
		{"const without init", "const x;", ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var exprErr *Error
			require.True(t, errors.As(err, &exprErr))
			assert.Equal(t, "compile", exprErr.Phase)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
	}{
		{"undefined variable", "return nope;", ErrReference},
		{"member of undefined", "return d.missing.x;", ErrType},
		{"iterate object", "for (const x of d) {} return 1;", ErrType},
		{"const reassign", "const x = 1; x = 2; return x;", ErrType},
		{"redeclare", "let x = 1; let x = 2;", ErrSyntax},
		{"method on number", "return (1).trim();", ErrType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := mustCompile(t, tt.src).Eval(ir.Record{}, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestEvalStepLimit(t *testing.T) {
	items := make([]any, 100)
	for i := range items {
		items[i] = i
	}
	d := ir.Record{"items": items}
	src := "let n = 0; for (const a of d.items) { for (const b of d.items) { n++; } } return n;"

	p, err := Compile(src)
	require.NoError(t, err)
	_, _, err = p.Eval(d, "")
	require.Error(t, err, "default budget is exhausted by 10k inner iterations")
	assert.True(t, IsStepLimit(err))

	p, err = Compile(src, WithMaxSteps(500))
	require.NoError(t, err)
	_, _, err = p.Eval(d, "")
	require.Error(t, err)
	assert.True(t, IsStepLimit(err))

	p, err = Compile(src, WithMaxSteps(100000))
	require.NoError(t, err)
	v, ok, err := p.Eval(d, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10000.0, v)
}

func TestEvalDoesNotMutateRecord(t *testing.T) {
	d := ir.Record{"items": []any{"a"}}
	_, _, err := mustCompile(t, "let x = d.items; x = 'other'; return x;").Eval(d, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, d["items"])
}

func TestProgramConcurrentEval(t *testing.T) {
	p := mustCompile(t, "let s = 0; for (const x of d.items) { s += x; } return s;")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, ok, err := p.Eval(ir.Record{"items": []any{n, 1}}, "")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, float64(n+1), v)
		}(i)
	}
	wg.Wait()
}

func TestProgramSource(t *testing.T) {
	assert.Equal(t, "return 1;", mustCompile(t, "return 1;").Source())
}

func TestEvalValueSizeLimit(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"string doubling", "var s = 'xxxxxxxx'; for (const a of [1,2,3,4,5,6]) for (const b of [1,2,3,4,5,6,7,8]) s = s + s; return s;"},
		{"compound doubling", "var s = 'xxxxxxxx'; for (const a of [1,2,3,4,5,6]) for (const b of [1,2,3,4,5,6,7,8]) s += s; return s;"},
		{"nested arrays", "var a = ['xxxxxxxx']; for (const i of [1,2,3,4,5,6]) for (const j of [1,2,3,4,5,6,7,8]) a = [a, a]; return a.join('');"},
		{"join", "var s = 'xxxxxxxx'; for (const i of [1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16]) s = [s, s, s].join(''); return s;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := mustCompile(t, tt.src).Eval(ir.Record{}, "")
			require.Error(t, err)
			assert.True(t, IsResourceLimit(err), "got %v", err)
			assert.False(t, IsStepLimit(err))
		})
	}
}

func TestEvalValueSizeOption(t *testing.T) {
	src := "return from + from;"

	p, err := Compile(src, WithMaxValueSize(8))
	require.NoError(t, err)

	v, ok, err := p.Eval(ir.Record{}, "abcd")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abcdabcd", v)

	_, _, err = p.Eval(ir.Record{}, "abcde")
	require.ErrorIs(t, err, ErrResourceLimit)

	p, err = Compile("return from.split('');", WithMaxValueSize(8))
	require.NoError(t, err)
	_, _, err = p.Eval(ir.Record{}, "abcdefgh")
	require.ErrorIs(t, err, ErrResourceLimit, "eight one-byte elements plus their bytes")
}
