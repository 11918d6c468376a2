package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	pagePolicyOnce sync.Once
	pagePolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton policy that strips every element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PageHTMLPolicy returns the policy applied to page bodies before they are
// stored. Block markup (div/section with class names) and media survive;
// scripts, event handlers and javascript: URLs do not.
func PageHTMLPolicy() *bluemonday.Policy {
	pagePolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowElements("main", "section", "header", "footer", "figure", "figcaption", "picture", "source")
		policy.AllowAttrs("class").OnElements("div", "section", "code", "pre", "figure", "p", "span")
		policy.AllowAttrs("srcset", "type", "media").OnElements("source")
		policy.AllowAttrs("loading").OnElements("img")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.AllowRelativeURLs(true)
		policy.RequireParseableURLs(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		pagePolicy = policy
	})
	return pagePolicy
}

// SanitizeHTMLStrict removes every HTML tag from s and trims the result.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizePageHTML cleans page markup with PageHTMLPolicy. Plain text passes
// through unchanged apart from entity escaping of stray angle brackets.
func SanitizePageHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(PageHTMLPolicy().Sanitize(s))
}
