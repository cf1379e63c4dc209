package validation

import (
	"strings"
	"testing"

	"github.com/xtxerr/cfgsync/internal/errors"
)

func TestValidateConfigName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "system.site", false},
		{"entity", "node.type.article", false},
		{"underscore", "views.view.content_recent", false},
		{"empty", "", true},
		{"no namespace", "system", true},
		{"leading dot", ".hidden.name", true},
		{"colon", "node.type:article", true},
		{"slash", "node/type.article", true},
		{"backslash", "node\\type.article", true},
		{"quote", "node.type.'a'", true},
		{"control char", "node.\x00type", true},
		{"too long", "a." + strings.Repeat("x", MaxNameLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfigName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfigName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidName) {
				t.Errorf("ValidateConfigName(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}

func TestOwner(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"node.type.article", "node"},
		{"core.extension", "core"},
		{"shortcut.set.default", "shortcut"},
		{"malformed", "malformed"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Owner(tt.input); got != tt.want {
			t.Errorf("Owner(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default", "", false},
		{"language", "language.fr", false},
		{"single", "snapshot", false},
		{"empty segment", "language..fr", true},
		{"trailing dot", "language.", true},
		{"slash", "language/fr", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCollectionName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
