package driver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// StringOption returns the first non-empty option among keys, rendered as
// text, or def.
func StringOption(cfg ir.ServiceConfig, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := cfg.Option(k); ok && v != nil {
			if s := ir.FormatScalar(v); s != "" {
				return s
			}
		}
	}
	return def
}

// IntOption returns an integer option or def. Non-numeric values are an
// error so that typos in a definition are caught at construction.
func IntOption(cfg ir.ServiceConfig, key string, def int) (int, error) {
	f, ok, err := numberOption(cfg, key)
	if err != nil || !ok {
		return def, err
	}
	return int(f), nil
}

// FloatOption returns a numeric option or def.
func FloatOption(cfg ir.ServiceConfig, key string, def float64) (float64, error) {
	f, ok, err := numberOption(cfg, key)
	if err != nil || !ok {
		return def, err
	}
	return f, nil
}

// DurationMSOption reads a millisecond count.
func DurationMSOption(cfg ir.ServiceConfig, key string, def time.Duration) (time.Duration, error) {
	f, ok, err := numberOption(cfg, key)
	if err != nil || !ok {
		return def, err
	}
	return time.Duration(f) * time.Millisecond, nil
}

// BoolOption reads a boolean option. Strings "true", "1", "yes" and "on"
// are accepted.
func BoolOption(cfg ir.ServiceConfig, key string, def bool) bool {
	v, ok := cfg.Option(key)
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off", "":
			return false
		}
		return def
	}
	if f, ok := ir.Number(v); ok {
		return f != 0
	}
	return def
}

// StringMapOption reads an object option as a string map.
func StringMapOption(cfg ir.ServiceConfig, key string) (map[string]string, error) {
	v, ok := cfg.Option(key)
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("option %s: expected an object, got %T", key, v)
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = ir.FormatScalar(val)
	}
	return out, nil
}

func numberOption(cfg ir.ServiceConfig, key string) (float64, bool, error) {
	v, ok := cfg.Option(key)
	if !ok || v == nil {
		return 0, false, nil
	}
	if s, isStr := v.(string); isStr {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %q is not a number", key, s)
		}
		return f, true, nil
	}
	f, ok := ir.Number(v)
	if !ok {
		return 0, false, fmt.Errorf("option %s: expected a number, got %T", key, v)
	}
	return f, true, nil
}
