package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// CompileDefinition parses a CUE value into a Definition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the definition struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`definition: events: { ... }`)
//	def, err := CompileDefinition(v.LookupPath(cue.ParsePath("definition.events")))
func CompileDefinition(v cue.Value) (*ir.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.Definition{}

	// Name comes from the struct label unless set explicitly.
	labels := v.Path().Selectors()
	if len(labels) > 0 && labels[len(labels)-1].LabelType() == cue.StringLabel {
		def.Name = labels[len(labels)-1].Unquoted()
	}
	name, err := optionalString(v, "name", "")
	if err != nil {
		return nil, err
	}
	if name != "" {
		def.Name = name
	}

	def.Service, err = parseService(v)
	if err != nil {
		return nil, err
	}

	def.Fetch, err = parseFetch(v)
	if err != nil {
		return nil, err
	}

	def.Target, err = parseTarget(v)
	if err != nil {
		return nil, err
	}

	def.Rules, err = parseRules(v)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// parseService reads the optional service block. A missing block selects
// the default driver with no endpoint.
func parseService(v cue.Value) (ir.ServiceConfig, error) {
	var cfg ir.ServiceConfig

	svc := v.LookupPath(cue.ParsePath("service"))
	if !svc.Exists() {
		return cfg, nil
	}
	if err := requireStruct(svc, "service"); err != nil {
		return cfg, err
	}

	var err error
	if cfg.Driver, err = optionalString(svc, "driver", "service."); err != nil {
		return cfg, err
	}

	endpoint := svc.LookupPath(cue.ParsePath("endpoint"))
	if endpoint.Exists() && !isNull(endpoint) {
		s, err := endpoint.String()
		if err != nil {
			return cfg, fieldError("service.endpoint", "must be a string", endpoint, err)
		}
		cfg.Endpoint = &s
	}

	if cfg.Options, err = optionalObject(svc, "options", "service.options"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parseFetch reads the required fetch block.
func parseFetch(v cue.Value) (ir.FetchSpec, error) {
	var spec ir.FetchSpec

	fetch := v.LookupPath(cue.ParsePath("fetch"))
	if !fetch.Exists() {
		return spec, &CompileError{
			Field:   "fetch",
			Message: "fetch is required",
			Pos:     v.Pos(),
		}
	}
	if err := requireStruct(fetch, "fetch"); err != nil {
		return spec, err
	}

	var err error
	if spec.Method, err = optionalString(fetch, "method", "fetch."); err != nil {
		return spec, err
	}
	if spec.StartPoint, err = optionalString(fetch, "start_point", "fetch."); err != nil {
		return spec, err
	}
	if spec.Result, err = optionalString(fetch, "result", "fetch."); err != nil {
		return spec, err
	}
	if spec.Options, err = optionalObject(fetch, "options", "fetch.options"); err != nil {
		return spec, err
	}
	if spec.OptionTypes, err = optionalStringMap(fetch, "option_types", "fetch.option_types"); err != nil {
		return spec, err
	}
	return spec, nil
}

// parseTarget reads the required target block.
func parseTarget(v cue.Value) (ir.TargetSpec, error) {
	var spec ir.TargetSpec

	target := v.LookupPath(cue.ParsePath("target"))
	if !target.Exists() {
		return spec, &CompileError{
			Field:   "target",
			Message: "target is required",
			Pos:     v.Pos(),
		}
	}
	if err := requireStruct(target, "target"); err != nil {
		return spec, err
	}

	var err error
	if spec.Table, err = optionalString(target, "table", "target."); err != nil {
		return spec, err
	}
	if spec.PrimaryKey, err = optionalString(target, "primary_key", "target."); err != nil {
		return spec, err
	}
	if spec.ForeignKey, err = optionalString(target, "foreign_key", "target."); err != nil {
		return spec, err
	}

	allow := target.LookupPath(cue.ParsePath("allow_update"))
	if allow.Exists() {
		spec.AllowUpdate, err = allow.Bool()
		if err != nil {
			return spec, fieldError("target.allow_update", "must be a bool", allow, err)
		}
	}

	if spec.Fields, err = optionalStringMap(target, "fields", "target.fields"); err != nil {
		return spec, err
	}
	return spec, nil
}

// parseRules reads the ordered map list. Order is significant: later rules
// overwrite earlier ones writing the same field.
func parseRules(v cue.Value) ([]ir.MappingRule, error) {
	list := v.LookupPath(cue.ParsePath("map"))
	if !list.Exists() {
		return nil, nil
	}

	iter, err := list.List()
	if err != nil {
		return nil, fieldError("map", "must be a list of rules", list, err)
	}

	var rules []ir.MappingRule
	for i := 0; iter.Next(); i++ {
		rule, err := parseRule(iter.Value(), fmt.Sprintf("map[%d]", i))
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseRule(v cue.Value, field string) (ir.MappingRule, error) {
	var rule ir.MappingRule

	if err := requireStruct(v, field); err != nil {
		return rule, err
	}

	var err error
	if rule.From, err = optionalString(v, "from", field+"."); err != nil {
		return rule, err
	}
	if rule.To, err = optionalString(v, "to", field+"."); err != nil {
		return rule, err
	}
	if rule.Match, err = optionalString(v, "match", field+"."); err != nil {
		return rule, err
	}

	exprVal := v.LookupPath(cue.ParsePath("expression"))
	if exprVal.Exists() {
		rule.Expression, err = exprVal.Bool()
		if err != nil {
			return rule, fieldError(field+".expression", "must be a bool", exprVal, err)
		}
	}

	value := v.LookupPath(cue.ParsePath("value"))
	if value.Exists() {
		if err := value.Decode(&rule.Value); err != nil {
			return rule, formatCUEError(err)
		}
	}
	return rule, nil
}

func optionalString(v cue.Value, path, prefix string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", fieldError(prefix+path, "must be a string", f, err)
	}
	return s, nil
}

func optionalObject(v cue.Value, path, field string) (map[string]any, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return nil, nil
	}
	if err := requireStruct(f, field); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := f.Decode(&out); err != nil {
		return nil, formatCUEError(err)
	}
	return out, nil
}

func optionalStringMap(v cue.Value, path, field string) (map[string]string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return nil, nil
	}
	if err := requireStruct(f, field); err != nil {
		return nil, err
	}

	iter, err := f.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := make(map[string]string)
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, fieldError(field+"."+iter.Selector().Unquoted(), "must be a string", iter.Value(), err)
		}
		out[iter.Selector().Unquoted()] = s
	}
	return out, nil
}

func requireStruct(v cue.Value, field string) error {
	if v.IncompleteKind() != cue.StructKind {
		return &CompileError{
			Field:   field,
			Message: fmt.Sprintf("must be a struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	return nil
}

func isNull(v cue.Value) bool {
	return v.Kind() == cue.NullKind
}

// fieldError prefers the CUE error when it carries a position.
func fieldError(field, msg string, v cue.Value, cause error) error {
	if ce, ok := formatCUEError(cause).(*CompileError); ok && v.Kind() == cue.BottomKind {
		return ce
	}
	return &CompileError{
		Field:   field,
		Message: msg,
		Pos:     v.Pos(),
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
