package channels

import (
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// TelegramMaxMessageLength is the Bot API text limit in UTF-16 code units.
const TelegramMaxMessageLength = 4096

// MessageChunker splits long messages into pieces a chat network accepts,
// preferring paragraph, line, sentence and word boundaries in that order.
// Sizes are measured in UTF-16 code units, as the Bot API counts them.
type MessageChunker struct {
	MaxSize int
}

// NewMessageChunker creates a chunker. maxSize <= 0 uses the Telegram limit.
func NewMessageChunker(maxSize int) *MessageChunker {
	if maxSize <= 0 {
		maxSize = TelegramMaxMessageLength
	}
	return &MessageChunker{MaxSize: maxSize}
}

// Chunk splits text into pieces of at most MaxSize units. A code fence
// left open at the end of a piece is closed there and reopened at the start
// of the next, so every piece renders on its own.
func (c *MessageChunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if utf16Len(text) <= c.MaxSize {
		return []string{text}
	}
	if !strings.Contains(text, codeFence) {
		return split(text, c.MaxSize)
	}
	limit := c.MaxSize - fenceReserve(text)
	if limit <= 0 {
		return split(text, c.MaxSize)
	}
	return balanceFences(split(text, limit))
}

func split(text string, limit int) []string {
	var chunks []string
	remaining := text
	for utf16Len(remaining) > limit {
		breakIdx := findBreakPoint(remaining, prefixBytes(remaining, limit))

		if chunk := strings.TrimRightFunc(remaining[:breakIdx], unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[breakIdx:], unicode.IsSpace)
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

const codeFence = "```"

// fenceReserve is the room a piece needs for a reopened fence line at the
// top and a closing fence at the bottom.
func fenceReserve(text string) int {
	opener := len(codeFence)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, codeFence) {
			opener = max(opener, utf16Len(line))
		}
	}
	return opener + 1 + utf16Len("\n"+codeFence)
}

// balanceFences closes fences left open at the end of a piece and reopens
// them, info string included, at the start of the next.
func balanceFences(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	open := ""
	for _, chunk := range chunks {
		piece := chunk
		if open != "" {
			piece = open + "\n" + piece
		}
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(line)
			for n := strings.Count(line, codeFence); n > 0; n-- {
				switch {
				case open != "":
					open = ""
				case strings.HasPrefix(line, codeFence) && n == 1:
					open = line
				default:
					open = codeFence
				}
			}
		}
		if open != "" {
			piece += "\n" + codeFence
		}
		out = append(out, piece)
	}
	return out
}

// findBreakPoint returns the byte offset at which to cut text, at most
// limit. It is always positive so chunking makes progress.
func findBreakPoint(text string, limit int) int {
	window := text[:limit]
	if next, _ := utf8.DecodeRuneInString(text[limit:]); unicode.IsSpace(next) {
		if idx := strings.LastIndex(window, "\n"); idx <= 0 {
			return limit
		}
	}
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	best := -1
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > best {
			best = idx
		}
	}
	if best > 0 {
		return best + 1
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return len(window)
}

// prefixBytes returns the byte length of the longest prefix of s that fits
// in limit UTF-16 units, never splitting a rune.
func prefixBytes(s string, limit int) int {
	units := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			if i == 0 {
				_, size := utf8.DecodeRuneInString(s)
				return size
			}
			return i
		}
		units += n
	}
	return len(s)
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
