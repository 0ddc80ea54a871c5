package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mengxiangmengyuan/fabrik/internal/coerce"
	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/expr"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrNilDefinition = "E100" // nothing to validate

	// Definition errors (E101-E109)
	ErrNameEmpty         = "E101" // definition name is required
	ErrMethodEmpty       = "E102" // fetch method is required
	ErrInvalidIdentifier = "E103" // table, key or field name is not an identifier
	ErrInvalidFieldType  = "E104" // unknown type tag
	ErrKeyConflict       = "E105" // foreign key collides with the primary key
	ErrInvalidDriverName = "E106" // driver name contains unusable characters
	ErrUnusedOptionType  = "E107" // option type declared for an option that is not set

	// Mapping rule errors (E110-E119)
	ErrRuleNoTarget   = "E110" // rule has no "to"
	ErrRuleBadTarget  = "E111" // rule "to" is not an identifier
	ErrRuleExpression = "E112" // expression does not compile
	ErrRuleShape      = "E113" // inconsistent match/value/expression combination
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled definition.
// Returns all errors found (does not fail-fast).
func Validate(def *ir.Definition) []ValidationError {
	if def == nil {
		return []ValidationError{{
			Field:   "definition",
			Message: "definition is nil",
			Code:    ErrNilDefinition,
		}}
	}

	var errs []ValidationError

	// E101: name is required
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "definition name is required",
			Code:    ErrNameEmpty,
		})
	}

	// E106: driver name must survive sanitising unchanged
	if def.Service.Driver != driver.SanitizeName(def.Service.Driver) {
		errs = append(errs, ValidationError{
			Field:   "service.driver",
			Message: fmt.Sprintf("driver name %q may only contain letters, digits, '_', '.' and '-'", def.Service.Driver),
			Code:    ErrInvalidDriverName,
		})
	}

	errs = append(errs, validateFetch(&def.Fetch)...)
	errs = append(errs, validateTarget(&def.Target)...)

	for i, rule := range def.Rules {
		errs = append(errs, validateRule(rule, fmt.Sprintf("map[%d]", i))...)
	}

	return errs
}

// Check runs Validate and joins the result into a single error.
func Check(def *ir.Definition) error {
	vErrs := Validate(def)
	if len(vErrs) == 0 {
		return nil
	}
	errs := make([]error, len(vErrs))
	for i, e := range vErrs {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func validateFetch(fetch *ir.FetchSpec) []ValidationError {
	var errs []ValidationError

	// E102: method is required
	if strings.TrimSpace(fetch.Method) == "" {
		errs = append(errs, ValidationError{
			Field:   "fetch.method",
			Message: "fetch method is required",
			Code:    ErrMethodEmpty,
		})
	}

	for _, name := range ir.SortedKeys(fetch.OptionTypes) {
		field := "fetch.option_types." + name
		errs = append(errs, validateFieldType(fetch.OptionTypes[name], field, name)...)

		// E107: a type for an option that is never sent
		if _, ok := fetch.Options[name]; !ok {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("type declared for option %q which is not set", name),
				Code:    ErrUnusedOptionType,
			})
		}
	}

	return errs
}

func validateTarget(target *ir.TargetSpec) []ValidationError {
	var errs []ValidationError

	errs = append(errs, validateIdentifier(target.Table, "target.table", "table")...)
	pk := target.PrimaryKeyOrDefault()
	errs = append(errs, validateIdentifier(pk, "target.primary_key", "primary key")...)
	errs = append(errs, validateIdentifier(target.ForeignKey, "target.foreign_key", "foreign key")...)

	// E105: the foreign key must be an ordinary column
	if target.ForeignKey != "" && target.ForeignKey == pk {
		errs = append(errs, ValidationError{
			Field:   "target.foreign_key",
			Message: fmt.Sprintf("foreign key %q must differ from the primary key", pk),
			Code:    ErrKeyConflict,
		})
	}

	for _, name := range ir.SortedKeys(target.Fields) {
		field := "target.fields." + name
		errs = append(errs, validateIdentifier(name, field, "field")...)
		errs = append(errs, validateFieldType(target.Fields[name], field, name)...)

		if name == pk {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("field %q collides with the primary key", name),
				Code:    ErrKeyConflict,
			})
		}
	}

	return errs
}

func validateRule(rule ir.MappingRule, path string) []ValidationError {
	var errs []ValidationError

	// E110/E111: every rule writes one local field
	switch {
	case strings.TrimSpace(rule.To) == "":
		errs = append(errs, ValidationError{
			Field:   path + ".to",
			Message: "rule target field is required",
			Code:    ErrRuleNoTarget,
		})
	case !schema.ValidIdentifier(rule.To):
		errs = append(errs, ValidationError{
			Field:   path + ".to",
			Message: fmt.Sprintf("invalid target field %q", rule.To),
			Code:    ErrRuleBadTarget,
		})
	}

	// E113: match/value/expression combinations
	if rule.Expression && rule.Match == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".match",
			Message: "expression rules require a match expression",
			Code:    ErrRuleShape,
		})
	}
	if rule.Value != nil && rule.Match == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".value",
			Message: "value is only written by literal match rules",
			Code:    ErrRuleShape,
		})
	}
	if rule.Value != nil && rule.Expression {
		errs = append(errs, ValidationError{
			Field:   path + ".value",
			Message: "expression rules write the expression result, value is ignored",
			Code:    ErrRuleShape,
		})
	}

	// E112: expression must compile
	if rule.IsExpression() {
		if _, err := expr.Compile(rule.Match); err != nil {
			errs = append(errs, ValidationError{
				Field:   path + ".match",
				Message: err.Error(),
				Code:    ErrRuleExpression,
			})
		}
	}

	return errs
}

// validateIdentifier reports E103 for names that cannot be used as SQL
// identifiers.
func validateIdentifier(name, fieldPath, what string) []ValidationError {
	if schema.ValidIdentifier(name) {
		return nil
	}
	return []ValidationError{{
		Field:   fieldPath,
		Message: fmt.Sprintf("invalid %s name %q", what, name),
		Code:    ErrInvalidIdentifier,
	}}
}

// validateFieldType validates a type tag.
func validateFieldType(tag, fieldPath, fieldName string) []ValidationError {
	if _, err := coerce.ParseType(tag); err != nil {
		return []ValidationError{{
			Field:   fieldPath,
			Message: fmt.Sprintf("invalid type %q for field %q", tag, fieldName),
			Code:    ErrInvalidFieldType,
		}}
	}
	return nil
}
