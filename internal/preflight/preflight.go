// Package preflight verifies that the external tools a command shells out to
// are installed before anything is changed.
package preflight

import (
	"errors"

	skerrors "github.com/skylight-social/skyops/internal/errors"
)

// LookPathFunc resolves a command name on PATH.
type LookPathFunc func(name string) (string, error)

// Check returns a PrerequisiteMissing error for every tool lookPath cannot
// find, joined together, or nil.
func Check(lookPath LookPathFunc, tools ...string) error {
	var errs []error
	seen := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if seen[tool] {
			continue
		}
		seen[tool] = true
		if _, err := lookPath(tool); err != nil {
			errs = append(errs, skerrors.WrapCommandNotFound(tool, err))
		}
	}
	return errors.Join(errs...)
}
