package util

import (
	"regexp"
	"strings"
)

// Mention is an @handle or @handle@domain token found in content.
type Mention struct {
	Handle string
	Domain string
}

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@/])@([A-Za-z0-9_]+)(?:@([A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+))?`)

const maxMentionHandle = 30

// ExtractMentions returns the distinct mentions in text, in order of first
// appearance. Handles and domains are lowercased; tokens longer than a valid
// handle are skipped rather than truncated.
func ExtractMentions(text string) []Mention {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[Mention]bool, len(matches))
	mentions := make([]Mention, 0, len(matches))

	for _, m := range matches {
		if len(m[1]) > maxMentionHandle {
			continue
		}
		mention := Mention{Handle: strings.ToLower(m[1]), Domain: strings.ToLower(m[2])}
		if seen[mention] {
			continue
		}
		seen[mention] = true
		mentions = append(mentions, mention)
	}

	return mentions
}

// IsLocal reports whether the mention addresses an actor on domain.
func (m Mention) IsLocal(domain string) bool {
	return m.Domain == "" || strings.EqualFold(m.Domain, domain)
}
