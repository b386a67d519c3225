package reconcile

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxChannelName = 80
	maxTopic       = 250
)

// ChannelName returns the Slack channel name for a team: lowercase letters,
// digits, underscores and single hyphens, at most 80 characters. Names that slug
// to nothing fall back to the team id.
func ChannelName(prefix, displayName string, teamID uuid.UUID) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(prefix + displayName) {
		switch {
		case r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > maxChannelName {
		name = strings.TrimRight(name[:maxChannelName], "-")
	}
	if name == "" {
		name = "team-" + teamID.String()[:8]
	}
	return name
}

// Topic strips markup from a team description and fits it to Slack's topic
// limit.
func (r *Reconciler) Topic(description string) string {
	text := html.UnescapeString(r.policy.Sanitize(description))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxTopic {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxTopic]))
	}
	return text
}
