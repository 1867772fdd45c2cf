package config

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugSeparators = regexp.MustCompile(`[\s_]+`)
	slugInvalid    = regexp.MustCompile(`[^a-z0-9-]`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// asciiFold decomposes characters and drops the combining marks, so
// "Fotoarchiv Bürо" style names reduce to plain ASCII before slugging.
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// GenerateSlug derives a URL-safe identifier from a scan name:
// lowercase ASCII letters, digits and hyphens only. The derivation is
// deterministic, so slugs stay stable across config reloads.
func GenerateSlug(name string) string {
	folded, _, err := transform.String(asciiFold, name)
	if err != nil {
		folded = name
	}

	// Strip any non-ASCII that survived decomposition.
	var b strings.Builder
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}

	slug := strings.ToLower(b.String())
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = slugHyphens.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		slug = "scan"
	}

	return slug
}

// assignSlugs generates missing slugs from scan names in place. Only
// generated slugs are deduplicated with suffixes; explicitly configured
// duplicates are left alone, the scheduler drops all but the oldest.
func assignSlugs(scans []ScanConfig) {
	taken := make(map[string]struct{}, len(scans))
	for i := range scans {
		if scans[i].Slug != "" {
			taken[scans[i].Slug] = struct{}{}
		}
	}

	for i := range scans {
		if scans[i].Slug != "" {
			continue
		}

		base := GenerateSlug(scans[i].Name)
		candidate := base
		for counter := 2; ; counter++ {
			if _, dup := taken[candidate]; !dup {
				break
			}
			candidate = fmt.Sprintf("%s-%d", base, counter)
		}
		scans[i].Slug = candidate
		taken[candidate] = struct{}{}
	}
}
