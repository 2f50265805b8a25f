// Package catalog implements the FTP signature catalog: an ordered, immutable
// table of banner patterns that maps greeting text to a product identity and
// an optional version capture group. Rules are compiled once at load time and
// evaluated in declaration order, so the first matching rule always wins.
package catalog

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Unclassified is the product name reported when no signature matches a
// banner. An unclassified banner is a valid scan outcome, not a failure.
const Unclassified = "unclassified"

// SignatureRule associates a banner pattern with a product identity.
// VersionGroup, when > 0, names the capture group holding the version string.
type SignatureRule struct {
	ID           string
	Pattern      string
	Product      string
	VersionGroup int
}

// Classification is the result of matching one banner against the catalog.
type Classification struct {
	Matched bool
	RuleID  string
	Product string
	Version string
}

// CatalogError reports a malformed signature encountered while compiling a
// catalog. Index is the rule's position in declaration order.
type CatalogError struct {
	Index  int
	RuleID string
	Err    error
}

func (e *CatalogError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("signature %q (index %d): %v", e.RuleID, e.Index, e.Err)
	}
	return fmt.Sprintf("signature at index %d: %v", e.Index, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

type compiledRule struct {
	rule SignatureRule
	re   *regexp.Regexp
}

// Catalog holds the compiled signature rules. It is immutable after Compile
// and safe for concurrent use by any number of workers without locking.
type Catalog struct {
	rules []compiledRule
}

// Compile validates and compiles rules into a Catalog, preserving declaration
// order. It fails with a CatalogError on the first malformed rule: an invalid
// regular expression, a version group index outside the pattern's capture
// groups, an empty product name, or a duplicated rule ID.
func Compile(rules []SignatureRule) (*Catalog, error) {
	compiled := make([]compiledRule, 0, len(rules))
	seenIDs := make(map[string]struct{}, len(rules))

	for i, rule := range rules {
		if rule.Product == "" {
			return nil, &CatalogError{Index: i, RuleID: rule.ID, Err: fmt.Errorf("missing product")}
		}
		if rule.ID != "" {
			if _, dup := seenIDs[rule.ID]; dup {
				return nil, &CatalogError{Index: i, RuleID: rule.ID, Err: fmt.Errorf("duplicate rule id")}
			}
			seenIDs[rule.ID] = struct{}{}
		}

		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, &CatalogError{Index: i, RuleID: rule.ID, Err: fmt.Errorf("invalid pattern: %w", err)}
		}
		if rule.VersionGroup < 0 {
			return nil, &CatalogError{Index: i, RuleID: rule.ID, Err: fmt.Errorf("version group %d is negative", rule.VersionGroup)}
		}
		if rule.VersionGroup > re.NumSubexp() {
			return nil, &CatalogError{
				Index:  i,
				RuleID: rule.ID,
				Err:    fmt.Errorf("version group %d out of range: pattern has %d capture group(s)", rule.VersionGroup, re.NumSubexp()),
			}
		}

		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}

	return &Catalog{rules: compiled}, nil
}

// Classify matches a raw banner against the catalog in declaration order and
// returns the first hit. Banners that are not valid UTF-8 text, and banners no
// rule matches, classify as Unclassified rather than returning an error.
func (c *Catalog) Classify(banner []byte) Classification {
	if !utf8.Valid(banner) {
		return Classification{Product: Unclassified}
	}

	text := string(banner)
	for _, cr := range c.rules {
		match := cr.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		result := Classification{
			Matched: true,
			RuleID:  cr.rule.ID,
			Product: cr.rule.Product,
		}
		if cr.rule.VersionGroup > 0 && cr.rule.VersionGroup < len(match) {
			result.Version = match[cr.rule.VersionGroup]
		}
		return result
	}

	return Classification{Product: Unclassified}
}

// Len returns the number of compiled rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// Rules returns a copy of the rule definitions in declaration order.
func (c *Catalog) Rules() []SignatureRule {
	out := make([]SignatureRule, len(c.rules))
	for i, cr := range c.rules {
		out[i] = cr.rule
	}
	return out
}
