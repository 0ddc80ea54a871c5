package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mengxiangmengyuan/fabrik/internal/compiler"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the definitions found under the given paths.
type LoadResult struct {
	Definitions []ir.Definition
	FileCount   int // Number of definition files read
}

// Lookup returns the definition called name.
func (r *LoadResult) Lookup(name string) (ir.Definition, bool) {
	for _, def := range r.Definitions {
		if def.Name == name {
			return def, true
		}
	}
	return ir.Definition{}, false
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// definitionExts lists the file types that hold definitions.
var definitionExts = []string{".cue", ".yaml", ".yml", ".toml"}

// LoadDefinitions loads, compiles and validates definitions from files and
// directories. CUE files in one directory are loaded as a single instance;
// YAML and TOML files are decoded one by one.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDefinitions(paths []string, mode LoadMode) (*LoadResult, []error) {
	result := &LoadResult{}
	var errs []error
	seen := make(map[string]bool)

	fail := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	for _, path := range paths {
		defs, files, err := loadPath(path)
		result.FileCount += files
		for _, e := range flattenErrors(err) {
			if fail(e) {
				return result, errs
			}
		}

		for _, def := range defs {
			if seen[def.Name] {
				if fail(&LoadError{Code: ErrCodeDuplicate, Message: fmt.Sprintf("duplicate definition name %q in %s", def.Name, path)}) {
					return result, errs
				}
				continue
			}
			seen[def.Name] = true

			if vErrs := compiler.Validate(&def); len(vErrs) > 0 {
				for _, ve := range vErrs {
					ve.Field = def.Name + "." + ve.Field
					if fail(ve) {
						return result, errs
					}
				}
				continue
			}
			result.Definitions = append(result.Definitions, def)
		}
	}

	if len(result.Definitions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no definitions found"})
	}
	return result, errs
}

// flattenErrors expands joined errors into their leaves.
func flattenErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		return out
	}
	return []error{err}
}

// loadPath loads one file or directory. Multiple compile failures are
// returned joined.
func loadPath(path string) ([]ir.Definition, int, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}
	}
	if err != nil {
		return nil, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing path: %v", err)}
	}

	if !info.IsDir() {
		defs, err := loadFile(path)
		return defs, 1, err
	}

	files, err := FindDefinitionFiles(path)
	if err != nil {
		return nil, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no definition files found in %s", path)}
	}

	var (
		defs   []ir.Definition
		errs   []error
		hasCUE bool
	)
	for _, f := range files {
		if filepath.Ext(f) == ".cue" {
			hasCUE = true
			continue
		}
		fileDefs, err := loadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, fileDefs...)
	}
	if hasCUE {
		cueDefs, err := loadCUEDir(path)
		if err != nil {
			errs = append(errs, err)
		}
		defs = append(defs, cueDefs...)
	}
	return defs, len(files), errors.Join(errs...)
}

// loadFile decodes a single definition file by extension.
func loadFile(path string) ([]ir.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var defs []ir.Definition
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		value := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := value.Err(); err != nil {
			return nil, convertCompileError(err, path)
		}
		return compileDefinitions(value)
	case ".yaml", ".yml":
		defs, err = decodeDefinitions(data, yamlDecoder)
	case ".toml":
		defs, err = decodeDefinitions(data, tomlDecoder)
	default:
		return nil, &LoadError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("unsupported definition file %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding %s: %v", path, err)}
	}

	// A lone unnamed definition takes the file's name.
	if len(defs) == 1 && defs[0].Name == "" {
		defs[0].Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return defs, nil
}

func yamlDecoder(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func tomlDecoder(data []byte, v any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeDefinitions accepts either a "definitions" list or a single
// definition at the top level.
func decodeDefinitions(data []byte, decode func([]byte, any) error) ([]ir.Definition, error) {
	var file struct {
		Definitions []ir.Definition `yaml:"definitions" toml:"definitions"`
	}
	listErr := decode(data, &file)
	if listErr == nil && len(file.Definitions) > 0 {
		return file.Definitions, nil
	}

	var def ir.Definition
	if err := decode(data, &def); err != nil {
		if listErr != nil && bytes.Contains(data, []byte("definitions")) {
			return nil, listErr
		}
		return nil, err
	}
	return []ir.Definition{def}, nil
}

// loadCUEDir loads every CUE file in dir as one instance.
func loadCUEDir(dir string) ([]ir.Definition, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return compileDefinitions(value)
}

// compileDefinitions compiles every field of the top-level "definition"
// struct.
func compileDefinitions(value cue.Value) ([]ir.Definition, error) {
	defsVal := value.LookupPath(cue.ParsePath("definition"))
	if !defsVal.Exists() {
		return nil, nil
	}

	iter, err := defsVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating definitions: %v", err)}
	}

	var (
		defs []ir.Definition
		errs []error
	)
	for iter.Next() {
		def, err := compiler.CompileDefinition(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "definition."+iter.Selector().String()))
			continue
		}
		defs = append(defs, *def)
	}
	return defs, errors.Join(errs...)
}

// FindDefinitionFiles returns the definition files directly inside dir in
// lexical order.
func FindDefinitionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// CUE instances are loaded per directory, so nested
			// directories are not part of this one.
			if path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(definitionExts, strings.ToLower(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	if pos := firstCUEPos(err); pos.IsValid() {
		return &LoadError{Code: ErrCodeBuildFailed, Message: err.Error(), Pos: pos}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// firstCUEPos returns the first source position carried by a CUE error.
func firstCUEPos(err error) token.Pos {
	for _, e := range cueerrors.Errors(err) {
		if ps := cueerrors.Positions(e); len(ps) > 0 {
			return ps[0]
		}
	}
	return token.NoPos
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No definition files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeDecodeFailed = "E007" // YAML/TOML decode failed
	ErrCodeUnsupported  = "E008" // Unknown definition file type
	ErrCodeDuplicate    = "E009" // Duplicate definition name
	ErrCodeStoreOpen    = "E010" // Local store could not be opened

	// Definition shape errors
	ErrCodeBadFetch   = "E120" // Missing or malformed fetch block
	ErrCodeBadTarget  = "E121" // Missing or malformed target block
	ErrCodeBadService = "E122" // Malformed service block
	ErrCodeBadRule    = "E123" // Malformed map rule

	// Sync errors
	ErrCodeSyncDefinition = "E201" // Definition rejected by the engine
	ErrCodeSyncDriver     = "E202" // Driver missing or failed to start
	ErrCodeSyncFetch      = "E203" // Fetch failed
	ErrCodeSyncStore      = "E204" // Local store failed
	ErrCodeSyncCancelled  = "E205" // Interrupted before the run finished
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "fetch" || strings.HasPrefix(field, "fetch."):
		return ErrCodeBadFetch
	case field == "target" || strings.HasPrefix(field, "target."):
		return ErrCodeBadTarget
	case field == "service" || strings.HasPrefix(field, "service."):
		return ErrCodeBadService
	case strings.HasPrefix(field, "map"):
		return ErrCodeBadRule
	case field == "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}
