package commands

import (
	"regexp"
	"strings"
)

// DefaultPrefixes are the default command prefixes.
var DefaultPrefixes = []string{"!"}

// Parser detects and parses commands from message text.
type Parser struct {
	prefixes  []string
	controlRe *regexp.Regexp
}

// NewParser creates a new command parser.
func NewParser(prefixes ...string) *Parser {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}

	escapedPrefixes := make([]string, len(prefixes))
	for i, p := range prefixes {
		escapedPrefixes[i] = regexp.QuoteMeta(p)
	}
	prefixPattern := strings.Join(escapedPrefixes, "|")

	return &Parser{
		prefixes:  prefixes,
		controlRe: regexp.MustCompile(`^(` + prefixPattern + `)([a-zA-Z][a-zA-Z0-9_.-]*)(?:\s+([\s\S]*))?$`),
	}
}

// ParseCommand parses a command invocation from text.
// Returns nil if the text is not a valid command.
func (p *Parser) ParseCommand(text string) *ParsedCommand {
	text = strings.TrimSpace(text)
	if text == "" || !p.IsCommand(text) {
		return nil
	}

	match := p.controlRe.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	return &ParsedCommand{
		Name:   strings.ToLower(match[2]),
		Args:   strings.TrimSpace(match[3]),
		Prefix: match[1],
	}
}

// IsCommand checks if text starts with a command.
func (p *Parser) IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(text, prefix) {
			// Must be followed by a letter
			if len(text) > len(prefix) {
				next := text[len(prefix)]
				if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') {
					return true
				}
			}
		}
	}
	return false
}

// StripInvocation removes a leading invocation keyword such as
// "!fedorGPT" from text. The keyword must be followed by whitespace and a
// non-empty request; a bare keyword is not an invocation.
func StripInvocation(text, keyword string) (string, bool) {
	if keyword == "" || !strings.HasPrefix(text, keyword) {
		return "", false
	}
	rest := text[len(keyword):]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\n' && rest[0] != '\t') {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

func splitFields(args string, n int) []string {
	return strings.SplitN(args, " ", n)
}

func cutDot(name string) (string, string, bool) {
	return strings.Cut(name, ".")
}
