package expr

import (
	"strings"
)

var builtins = map[string]func(args []any) any{
	"String": func(args []any) any {
		if len(args) == 0 {
			return ""
		}
		return toString(args[0])
	},
	"Number": func(args []any) any {
		if len(args) == 0 {
			return 0.0
		}
		return toNumber(args[0])
	},
	"Boolean": func(args []any) any {
		return len(args) > 0 && truthy(args[0])
	},
}

var methods = map[string]bool{
	"toLowerCase": true,
	"toUpperCase": true,
	"trim":        true,
	"includes":    true,
	"startsWith":  true,
	"endsWith":    true,
	"indexOf":     true,
	"split":       true,
	"join":        true,
}

func knownMethod(name string) bool {
	return methods[name]
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

func callMethod(recv any, name string, args []any) (any, error) {
	switch r := recv.(type) {
	case string:
		return stringMethod(r, name, args)
	case []any:
		return arrayMethod(r, name, args)
	}
	if isNullish(recv) {
		return nil, evalError(ErrType, "cannot call %s on %s", name, toString(recv))
	}
	return nil, evalError(ErrType, "%s is not a function on %s", name, typeOf(recv))
}

func stringMethod(s, name string, args []any) (any, error) {
	switch name {
	case "toLowerCase":
		return strings.ToLower(s), nil
	case "toUpperCase":
		return strings.ToUpper(s), nil
	case "trim":
		return strings.TrimSpace(s), nil
	case "includes":
		return strings.Contains(s, toString(arg(args, 0))), nil
	case "startsWith":
		return strings.HasPrefix(s, toString(arg(args, 0))), nil
	case "endsWith":
		return strings.HasSuffix(s, toString(arg(args, 0))), nil
	case "indexOf":
		i := strings.Index(s, toString(arg(args, 0)))
		if i < 0 {
			return -1.0, nil
		}
		return float64(len([]rune(s[:i]))), nil
	case "split":
		sep := arg(args, 0)
		if isUndefined(sep) {
			return []any{s}, nil
		}
		parts := strings.Split(s, toString(sep))
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}
	return nil, evalError(ErrType, "%s is not a function on string", name)
}

func arrayMethod(a []any, name string, args []any) (any, error) {
	switch name {
	case "includes":
		return indexOf(a, arg(args, 0)) >= 0, nil
	case "indexOf":
		return float64(indexOf(a, arg(args, 0))), nil
	case "join":
		sep := ","
		if s := arg(args, 0); !isUndefined(s) {
			sep = toString(s)
		}
		parts := make([]string, len(a))
		for i, elem := range a {
			if !isNullish(elem) {
				parts[i] = toString(elem)
			}
		}
		return strings.Join(parts, sep), nil
	}
	return nil, evalError(ErrType, "%s is not a function on array", name)
}

func indexOf(a []any, v any) int {
	for i, elem := range a {
		if strictEquals(elem, v) {
			return i
		}
	}
	return -1
}
