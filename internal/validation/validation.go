// Package validation checks a bundle write request before anything is
// written: struct tags on bundle.Input (go-playground/validator), the set of
// artifacts, and the config document against an embedded CUE schema.
package validation

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/canon"
)

//go:embed schema.cue
var schemaSource string

// Checked is the validated, derived view of an Input.
type Checked struct {
	// Name and OutFileName as resolved from the input or the config.
	Name        string
	OutFileName string

	// Config is the config document in canonical JSON form.
	Config []byte
}

// Validator validates bundle inputs. Safe for concurrent use.
type Validator struct {
	structs *validator.Validate

	// cue.Context is not safe for concurrent use.
	mu     sync.Mutex
	cueCtx *cue.Context
	schema cue.Value
}

// New compiles the config schema and prepares the struct validator.
func New() (*Validator, error) {
	cueCtx := cuecontext.New()
	root := cueCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	schema := root.LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Config: %w", err)
	}

	structs := validator.New()
	if err := structs.RegisterValidation("nonblank", validateNonBlank); err != nil {
		return nil, fmt.Errorf("register nonblank: %w", err)
	}

	return &Validator{
		structs: structs,
		cueCtx:  cueCtx,
		schema:  schema,
	}, nil
}

// validateNonBlank rejects strings made only of whitespace.
func validateNonBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Input validates in and derives the bundle name, output file name and
// canonical config. All failures are VALIDATION errors.
func (v *Validator) Input(in bundle.Input) (Checked, error) {
	if err := v.structs.Struct(in); err != nil {
		return Checked{}, describe(err)
	}

	for kind, art := range in.Artifacts {
		if !kind.Valid() {
			return Checked{}, bundle.Validationf("unknown artifact kind %q", kind)
		}
		if kind == bundle.KindPrimary && len(art.Data) == 0 {
			return Checked{}, bundle.Validationf("primary artifact is empty")
		}
	}
	for _, kind := range bundle.Kinds {
		if kind.Required() {
			if _, ok := in.Artifacts[kind]; !ok {
				return Checked{}, bundle.Validationf("missing required artifact %q", kind)
			}
		}
	}

	name, outFileName, doc, err := v.Config(in.Artifacts[bundle.KindConfig].Data)
	if err != nil {
		return Checked{}, err
	}

	if in.Name != "" && in.Name != name {
		return Checked{}, bundle.Validationf("name %q does not match config name %q", in.Name, name)
	}
	if in.OutFileName != "" && in.OutFileName != outFileName {
		return Checked{}, bundle.Validationf("outFileName %q does not match config outFileName %q", in.OutFileName, outFileName)
	}

	return Checked{Name: name, OutFileName: outFileName, Config: doc}, nil
}

// Config validates a raw config document and returns its name, outFileName
// and canonical form.
func (v *Validator) Config(raw []byte) (name, outFileName string, doc []byte, err error) {
	decoded, err := canon.Decode(raw)
	if err != nil {
		return "", "", nil, bundle.Validationf("config is not valid JSON: %v", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return "", "", nil, bundle.Validationf("config must be a JSON object")
	}

	if err := v.checkSchema(raw); err != nil {
		return "", "", nil, err
	}

	// The schema guarantees both are non-blank strings.
	name, _ = obj["name"].(string)
	outFileName, _ = obj["outFileName"].(string)

	doc, err = canon.Marshal(obj)
	if err != nil {
		return "", "", nil, bundle.Validationf("config cannot be canonicalized: %v", err)
	}
	return name, outFileName, doc, nil
}

func (v *Validator) checkSchema(raw []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.cueCtx.CompileBytes(raw, cue.Filename("config.json"))
	if err := val.Err(); err != nil {
		return bundle.Validationf("config is not valid JSON: %v", err)
	}
	if err := v.schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return bundle.Validationf("config does not match schema: %v", err)
	}
	return nil
}

// describe turns validator errors into a single VALIDATION error naming
// every failing field.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return bundle.Validationf("invalid input: %v", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return bundle.Validationf("invalid input: %s", strings.Join(parts, ", "))
}
