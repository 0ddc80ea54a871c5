// Package mapper applies declarative mapping rules to raw records.
//
// Mapping is pure: the same record and rules always yield the same output
// regardless of batch order or concurrency.
package mapper

import (
	"golang.org/x/sync/errgroup"

	"github.com/mengxiangmengyuan/fabrik/internal/expr"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// Option configures a Mapper.
type Option func(*Mapper)

// WithConcurrency maps up to n records in parallel. n <= 1 maps sequentially.
func WithConcurrency(n int) Option {
	return func(m *Mapper) {
		m.workers = n
	}
}

// WithExprOptions forwards options to every compiled expression rule.
func WithExprOptions(opts ...expr.Option) Option {
	return func(m *Mapper) {
		m.exprOpts = append(m.exprOpts, opts...)
	}
}

type compiledRule struct {
	rule       ir.MappingRule
	from       Template
	program    *expr.Program
	compileErr error
}

// Mapper holds a compiled rule set.
type Mapper struct {
	rules    []compiledRule
	workers  int
	exprOpts []expr.Option
}

// New compiles rules in declaration order. Expression rules that fail to
// compile are kept and report their error for every record they apply to.
func New(rules []ir.MappingRule, opts ...Option) *Mapper {
	m := &Mapper{}
	for _, opt := range opts {
		opt(m)
	}

	m.rules = make([]compiledRule, len(rules))
	for i, r := range rules {
		cr := compiledRule{rule: r, from: ParseTemplate(r.From)}
		if r.IsExpression() {
			cr.program, cr.compileErr = expr.Compile(r.Match, m.exprOpts...)
		}
		m.rules[i] = cr
	}
	return m
}

// CompileErrors returns one RuleError per expression rule that did not
// compile. Record is -1.
func (m *Mapper) CompileErrors() []error {
	var errs []error
	for i, cr := range m.rules {
		if cr.compileErr != nil {
			errs = append(errs, &RuleError{Record: -1, Rule: i, To: cr.rule.To, Err: cr.compileErr})
		}
	}
	return errs
}

// MapRecord applies every rule to rec. index identifies the record in
// returned errors.
func (m *Mapper) MapRecord(index int, rec ir.Record) (ir.MappedRecord, []error) {
	row := make(ir.MappedRecord, len(m.rules))
	var errs []error

	for i, cr := range m.rules {
		resolved := cr.from.Resolve(rec)
		r := cr.rule

		switch {
		case r.Match == "":
			row[r.To] = resolved

		case !r.Expression:
			if resolved == r.Match {
				row[r.To] = r.Value
			}

		default:
			if cr.compileErr != nil {
				errs = append(errs, &RuleError{Record: index, Rule: i, To: r.To, Err: cr.compileErr})
				continue
			}
			v, ok, err := cr.program.Eval(rec, resolved)
			if err != nil {
				errs = append(errs, &RuleError{Record: index, Rule: i, To: r.To, Err: err})
				continue
			}
			if ok {
				row[r.To] = v
			}
		}
	}
	return row, errs
}

// MapBatch maps records in input order. The returned errors are RuleErrors
// ordered by record then rule; they never stop the batch.
func (m *Mapper) MapBatch(records []ir.Record) ([]ir.MappedRecord, []error) {
	out := make([]ir.MappedRecord, len(records))
	perRecord := make([][]error, len(records))

	if m.workers <= 1 || len(records) < 2 {
		for i, rec := range records {
			out[i], perRecord[i] = m.MapRecord(i, rec)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(m.workers)
		for i, rec := range records {
			g.Go(func() error {
				out[i], perRecord[i] = m.MapRecord(i, rec)
				return nil
			})
		}
		_ = g.Wait()
	}

	var errs []error
	for _, e := range perRecord {
		errs = append(errs, e...)
	}
	return out, errs
}
