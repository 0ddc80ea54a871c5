package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainService    = "fabsync/service/v1"
	DomainDefinition = "fabsync/definition/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ServiceSignature computes the identity of a service configuration.
// Configurations with the same canonical form share a signature no matter
// how their options were ordered.
func ServiceSignature(cfg ServiceConfig) (string, error) {
	canonical, err := MarshalCanonical(cfg.CanonicalObject())
	if err != nil {
		return "", fmt.Errorf("ServiceSignature: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainService, canonical), nil
}

// DefinitionHash identifies the exact definition a run executed with.
// Stored alongside run history so changed rules are visible.
func DefinitionHash(def Definition) (string, error) {
	rules := make([]any, len(def.Rules))
	for i, r := range def.Rules {
		rules[i] = map[string]any{
			"from":       r.From,
			"to":         r.To,
			"value":      r.Value,
			"match":      r.Match,
			"expression": r.Expression,
		}
	}
	fields := make(map[string]any, len(def.Target.Fields))
	for k, v := range def.Target.Fields {
		fields[k] = v
	}
	obj := map[string]any{
		"name":    def.Name,
		"service": def.Service.CanonicalObject(),
		"fetch": map[string]any{
			"method":      def.Fetch.Method,
			"options":     nonNilObject(def.Fetch.Options),
			"start_point": def.Fetch.StartPoint,
			"result":      def.Fetch.Result,
		},
		"target": map[string]any{
			"table":        def.Target.Table,
			"primary_key":  def.Target.PrimaryKeyOrDefault(),
			"foreign_key":  def.Target.ForeignKey,
			"allow_update": def.Target.AllowUpdate,
			"fields":       fields,
		},
		"map": rules,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// MustServiceSignature is like ServiceSignature but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustServiceSignature(cfg ServiceConfig) string {
	sig, err := ServiceSignature(cfg)
	if err != nil {
		panic(err)
	}
	return sig
}

func nonNilObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
