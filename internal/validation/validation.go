// Package validation provides centralized input validation for cfgsync.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Configuration Name Validation
// =============================================================================

// MaxNameLength is the longest configuration name a store accepts.
const MaxNameLength = 250

// forbiddenNameChars may never appear in a configuration name because
// file-backed stores use the name as a file name.
const forbiddenNameChars = `:?*<>"'/\`

// ValidateConfigName validates a configuration object name.
//
// A valid name is namespaced by its owner ("owner.rest"), is at most
// MaxNameLength characters long and contains no characters that are unsafe
// in file names.
func ValidateConfigName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", errors.ErrInvalidName)
	}
	if !strings.Contains(name, ".") {
		return fmt.Errorf("%q is not namespaced by its owner: %w", name, errors.ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%q exceeds %d characters: %w", name, MaxNameLength, errors.ErrInvalidName)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%q cannot start with '.': %w", name, errors.ErrInvalidName)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("%q contains a control character at position %d: %w", name, i, errors.ErrInvalidName)
		}
		if strings.ContainsRune(forbiddenNameChars, r) {
			return fmt.Errorf("%q contains invalid character '%c' at position %d: %w", name, r, i, errors.ErrInvalidName)
		}
	}

	return nil
}

// Owner returns the extension that owns a configuration name: everything
// before the first dot. Names without a dot are their own owner.
func Owner(name string) string {
	owner, _, _ := strings.Cut(name, ".")
	return owner
}

// =============================================================================
// Collection Name Validation
// =============================================================================

// ValidateCollectionName validates a storage collection name.
// The default collection (empty string) is always valid.
func ValidateCollectionName(collection string) error {
	if collection == config.DefaultCollection {
		return nil
	}

	for i, segment := range strings.Split(collection, config.CollectionSeparator) {
		if segment == "" {
			return fmt.Errorf("collection %q has an empty segment %d: %w", collection, i, errors.ErrInvalidName)
		}
		for _, r := range segment {
			if !isAllowedCollectionChar(r) {
				return fmt.Errorf("collection %q contains invalid character '%c': %w", collection, r, errors.ErrInvalidName)
			}
		}
	}

	return nil
}

func isAllowedCollectionChar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == '_' || r == '-'
}
