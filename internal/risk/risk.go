// Package risk tiers a pending change set by its blast radius, so the gate
// scheduler can scale validation effort to the shape of the change.
package risk

import (
	"path"
	"regexp"
	"strings"
)

// Tier is the coarse classification of a change set.
type Tier string

const (
	TierDocsOnly Tier = "docsOnly"
	TierStandard Tier = "standard"
	TierHighRisk Tier = "highRisk"
)

// Result is the full classification output. SafetyCriticalPatterns is
// always populated regardless of tier: those test selectors are
// non-negotiable no matter what changed.
type Result struct {
	Tier                   Tier
	HighRiskPaths          []string
	SafetyCriticalPatterns []string
	ShouldRunIntegration   bool
}

// DocsOnly reports whether the change set carries no code risk.
func (r Result) DocsOnly() bool {
	return r.Tier == TierDocsOnly
}

// safetyCriticalPatterns are the test selectors that run on every tier.
// Must never be empty: tiering scales effort, it never waives these.
var safetyCriticalPatterns = []string{
	"**/auth/**/*.test.*",
	"**/permissions/**/*.test.*",
	"**/*rls*.test.*",
	"**/*policy*.test.*",
	"supabase/migrations/**",
}

// SafetyCritical returns a copy of the constant safety-critical selectors.
func SafetyCritical() []string {
	return append([]string(nil), safetyCriticalPatterns...)
}

var (
	docDirs     = map[string]bool{"docs": true, "doc": true, "documentation": true}
	docToolDirs = map[string]bool{".vitepress": true, ".docusaurus": true, "mkdocs": true}
	docExts     = map[string]bool{".md": true, ".mdx": true, ".markdown": true, ".rst": true}

	// authPattern matches authorization/permissions/RLS/policy code by path
	// token. Token-delimited so "author.go" or "apolicy" don't false-match.
	authPattern = regexp.MustCompile(`(?i)(^|[/_.-])(auth|authz|authorization|permissions?|polic(?:y|ies)|rls|rbac|acl)([/_.-]|$)`)

	// migrationPattern identifies database migration files. For these the
	// tier decision looks at the filename only: a schema-only migration is
	// not high risk by itself, one whose name carries a policy/RLS keyword is.
	migrationPattern = regexp.MustCompile(`(^|/)migrations/[^/]+\.sql$`)

	migrationKeyword = regexp.MustCompile(`(?i)(^|[_.-])(polic(?:y|ies)|rls|grant|permissions?)([_.-]|$)`)
)

// Classify tiers a list of changed paths. Pure: no filesystem access.
// Empty input means no code risk is possible and classifies as docs-only.
func Classify(changedPaths []string) Result {
	result := Result{
		Tier:                   TierDocsOnly,
		SafetyCriticalPatterns: safetyCriticalPatterns,
	}
	if len(changedPaths) == 0 {
		return result
	}

	allDocs := true
	for _, p := range changedPaths {
		norm := normalize(p)
		if norm == "" {
			continue
		}
		if !isDocPath(norm) {
			allDocs = false
		}
		if isHighRiskPath(norm) {
			result.HighRiskPaths = append(result.HighRiskPaths, norm)
		}
	}

	switch {
	case len(result.HighRiskPaths) > 0:
		result.Tier = TierHighRisk
		result.ShouldRunIntegration = true
	case allDocs:
		result.Tier = TierDocsOnly
	default:
		result.Tier = TierStandard
	}
	return result
}

// normalize treats backslash separators identically to forward slashes
// before any pattern matching.
func normalize(p string) string {
	return strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
}

func isDocPath(p string) bool {
	if docExts[strings.ToLower(path.Ext(p))] {
		return true
	}
	segments := strings.Split(p, "/")
	for i, seg := range segments[:len(segments)-1] {
		lower := strings.ToLower(seg)
		if docToolDirs[lower] {
			return true
		}
		// Root docs directories only: src/docs/ is code organization,
		// not documentation.
		if i == 0 && docDirs[lower] {
			return true
		}
	}
	return false
}

func isHighRiskPath(p string) bool {
	if migrationPattern.MatchString(p) {
		return migrationKeyword.MatchString(path.Base(p))
	}
	return authPattern.MatchString(p)
}
