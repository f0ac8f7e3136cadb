package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/crr/internal/schema"
)

// LoadError represents an error that occurred during schema loading.
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

// LoadSchema compiles table definitions from a CUE file, or from every
// .cue file of a directory unified into one value.
func LoadSchema(path string) (*schema.Schema, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema: %v", err)}
	}

	if !info.IsDir() {
		sch, err := schema.LoadFile(path)
		if err != nil {
			return nil, convertCompileError(err)
		}
		return sch, nil
	}

	files, err := FindCUEFiles(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	ctx := cuecontext.New()
	var value cue.Value
	for i, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("reading %s: %v", file, err)}
		}
		v := ctx.CompileBytes(src, cue.Filename(file))
		if i == 0 {
			value = v
			continue
		}
		value = value.Unify(v)
	}

	sch, err := schema.Compile(value)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return sch, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a schema error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *schema.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeSchema,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeSchema, Message: err.Error()}
}

// loadErrorCode returns the CLI error code carried by err.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}
