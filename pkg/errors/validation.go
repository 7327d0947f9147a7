package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// maxNameLength bounds output base names and template names.
const maxNameLength = 128

// ValidateBaseName validates an output base name for safety and correctness.
// Base names become file names under pdf/, png/ and logs/, so they must not
// carry path components.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - No path separators or traversal sequences
//   - Maximum length of 128 characters
func ValidateBaseName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidName, "output name cannot be empty")
	}

	if len(name) > maxNameLength {
		return New(ErrCodeInvalidName, "output name too long (max %d characters)", maxNameLength)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidName, "output name contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"/",    // Path separator
		"\\",   // Backslash (Windows path)
		"\x00", // Null byte
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidName, "output name contains invalid characters: %q", pattern)
		}
	}

	return nil
}

// templateNameRegex matches template names: letters, digits, dash, underscore.
var templateNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateTemplateName validates a template name. Names are resolved to
// templates/<name>.tex, so only simple identifiers are allowed.
func ValidateTemplateName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidTemplate, "template name cannot be empty")
	}
	if len(name) > maxNameLength {
		return New(ErrCodeInvalidTemplate, "template name too long (max %d characters)", maxNameLength)
	}
	if !templateNameRegex.MatchString(name) {
		return New(ErrCodeInvalidTemplate, "invalid template name: %q", name)
	}
	return nil
}

// ValidatePath validates a user-supplied file path (input file, working directory).
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 4096 characters
//   - No null bytes or control characters
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 4096
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	return nil
}
