package usercontext

import "regexp"

// Expertise levels in ascending order.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

var levelRank = map[string]int{
	LevelBeginner:     0,
	LevelIntermediate: 1,
	LevelAdvanced:     2,
}

// Rank returns the ordinal of level; unknown levels rank as beginner.
func Rank(level string) int {
	return levelRank[level]
}

var advancedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(json[- ]?ld|schema\.org|structured data)\b`),
	regexp.MustCompile(`(?i)\b(canonical|hreflang|robots\.txt|sitemap)\b`),
	regexp.MustCompile(`(?i)\b(aria-[a-z]+|wcag|a11y)\b`),
	regexp.MustCompile(`(?i)\b(core web vitals|lcp|cls|inp|ttfb)\b`),
	regexp.MustCompile(`(?i)\b(a/b test|experiment|variant|conversion rate|bounce rate)\b`),
	regexp.MustCompile(`(?i)\b(regex|css selector|data attribute|semantic html)\b`),
	regexp.MustCompile(`(?i)<[a-z][a-z0-9-]*[\s>]`),
}

var intermediatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(seo|meta (title|description)|alt text)\b`),
	regexp.MustCompile(`(?i)\b(block|section|hero|cards?|columns?)\b`),
	regexp.MustCompile(`(?i)\b(template|layout|metadata|tags?)\b`),
	regexp.MustCompile(`(?i)\b(brand (voice|guidelines)|tone of voice)\b`),
	regexp.MustCompile(`(?i)\b(page ?views|traffic|analytics|metrics)\b`),
	regexp.MustCompile(`(?i)/[a-z0-9-]+/[a-z0-9-]+`),
}

func hits(patterns []*regexp.Regexp, prompt string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(prompt) {
			n++
		}
	}
	return n
}

// ScoreExpertise derives the level a prompt demonstrates.
func ScoreExpertise(prompt string) string {
	adv := hits(advancedPatterns, prompt)
	switch {
	case adv >= 2:
		return LevelAdvanced
	case adv >= 1 || hits(intermediatePatterns, prompt) >= 2:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}
