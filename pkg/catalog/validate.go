package catalog

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ValidationIssue describes one problem found in a signature file.
type ValidationIssue struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult aggregates every issue found in one signature file.
type ValidationResult struct {
	RuleCount int               `json:"rule_count"`
	Errors    []ValidationIssue `json:"errors"`
	Warnings  []ValidationIssue `json:"warnings"`

	strict bool
}

// IsValid reports whether the file would compile. In strict mode warnings
// count against validity too.
func (r *ValidationResult) IsValid() bool {
	if len(r.Errors) > 0 {
		return false
	}
	if r.strict && len(r.Warnings) > 0 {
		return false
	}
	return true
}

func (r *ValidationResult) addError(ruleID, field, message string) {
	r.Errors = append(r.Errors, ValidationIssue{RuleID: ruleID, Field: field, Message: message})
}

func (r *ValidationResult) addWarning(ruleID, field, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{RuleID: ruleID, Field: field, Message: message})
}

// Validator checks signature files for authoring problems. Unlike Compile it
// does not stop at the first broken rule, so authors see every issue in one
// pass.
type Validator struct {
	strict bool
}

// NewValidator returns a Validator. In strict mode warnings fail validation.
func NewValidator(strict bool) *Validator {
	return &Validator{strict: strict}
}

// Validate inspects every entry and collects errors and warnings. Errors are
// conditions Compile would reject; warnings flag rules that compile but are
// probably not what the author meant.
func (v *Validator) Validate(f *File) *ValidationResult {
	result := &ValidationResult{
		RuleCount: len(f.Signatures),
		Errors:    []ValidationIssue{},
		Warnings:  []ValidationIssue{},
		strict:    v.strict,
	}

	if len(f.Signatures) == 0 {
		result.addError("", "", "signature file has no signatures")
		return result
	}

	seenIDs := make(map[string]int, len(f.Signatures))
	for i, sig := range f.Signatures {
		if sig.ID == "" {
			result.addError("", "id", fmt.Sprintf("signature at index %d is missing id", i))
		} else if prev, dup := seenIDs[sig.ID]; dup {
			result.addError(sig.ID, "id", fmt.Sprintf("duplicate of signature at index %d", prev))
		} else {
			seenIDs[sig.ID] = i
		}

		if sig.Product == "" {
			result.addError(sig.ID, "product", "missing product")
		}

		if sig.Pattern == "" {
			result.addError(sig.ID, "pattern", "missing pattern")
			continue
		}
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			result.addError(sig.ID, "pattern", fmt.Sprintf("invalid pattern: %v", err))
			continue
		}

		switch {
		case sig.VersionGroup < 0:
			result.addError(sig.ID, "version_group", fmt.Sprintf("version group %d is negative", sig.VersionGroup))
		case sig.VersionGroup > re.NumSubexp():
			result.addError(sig.ID, "version_group",
				fmt.Sprintf("version group %d out of range: pattern has %d capture group(s)", sig.VersionGroup, re.NumSubexp()))
		case sig.VersionGroup == 0 && re.NumSubexp() > 0:
			result.addWarning(sig.ID, "version_group", "pattern has capture groups but version_group is unset")
		}

		if re.MatchString("") {
			result.addWarning(sig.ID, "pattern", "pattern matches the empty string and will classify every banner")
		}
	}

	return result
}

// ValidateFile reads and validates a signature file in one call. Only an
// unreadable or undecodable file is an error; rule problems land in the
// result.
func ValidateFile(path string, strict bool) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse signature file: %w", err)
	}

	return NewValidator(strict).Validate(&f), nil
}

// NewValidationError summarizes a failed validation for the CLI exit path.
func NewValidationError(errorCount, warningCount int) error {
	return fmt.Errorf("signature validation failed: %d error(s), %d warning(s)", errorCount, warningCount)
}
