package segment

import "strings"

const (
	chineseTerminators = "。！？；…"
	asciiTerminators   = ".!?;"
	closingBrackets    = "\"'”’）】》」』)]}"
)

// SentenceBuffer accepts dialogue-mode text and emits complete sentences as
// soon as a terminator is recognized and the text after it (past any closing
// quotes/brackets) has begun to arrive; a sentence whose terminator ends
// the buffered text is held until more text or Finish. Terminators: the Chinese and ASCII
// sets above, a colon at end-of-line, a closing quote/bracket immediately
// followed by a terminator, or two-or-more consecutive newlines. Feeding the
// same input as one call or byte-by-byte yields the same emitted sentences.
type SentenceBuffer struct {
	buf []rune
}

// NewSentenceBuffer returns an empty buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add appends text and returns every sentence that can now be extracted.
func (b *SentenceBuffer) Add(text string) []string {
	b.buf = append(b.buf, []rune(text)...)
	var out []string
	for {
		textEnd, resumeAt, ok := findBoundary(b.buf)
		if !ok {
			break
		}
		sentence := strings.TrimSpace(string(b.buf[:textEnd]))
		b.buf = b.buf[resumeAt:]
		if sentence != "" && !isPunctuationOnly(sentence) {
			out = append(out, sentence)
		}
	}
	return out
}

// Finish flushes any non-empty remainder as a final sentence.
func (b *SentenceBuffer) Finish() (string, bool) {
	remainder := strings.TrimSpace(string(b.buf))
	b.buf = nil
	if remainder == "" || isPunctuationOnly(remainder) {
		return "", false
	}
	return remainder, true
}

// findBoundary scans buf for the first sentence-ending boundary. textEnd is
// the exclusive end of the sentence text (terminator included, trailing
// newline run excluded); resumeAt is where the remaining buffer starts
// (equal to textEnd except after a newline run, which is consumed whole).
func findBoundary(buf []rune) (textEnd, resumeAt int, ok bool) {
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		switch {
		case c == '\n':
			j := i
			for j < len(buf) && buf[j] == '\n' {
				j++
			}
			if j-i >= 2 {
				if i == 0 {
					// nothing to extract as a sentence; just consume the
					// run and keep scanning the remainder in a fresh call.
					return 0, j, true
				}
				return i, j, true
			}
			i = j - 1
		case isTerminator(c):
			j := i + 1
			for j < len(buf) && isClosing(buf[j]) {
				j++
			}
			if j == len(buf) {
				// Nothing follows the terminator yet, so a closing
				// quote/bracket may still arrive in the next chunk; wait
				// for more text (or Finish()) so the boundary does not
				// depend on where the input was split.
				return 0, 0, false
			}
			return j, j, true
		case c == ':':
			// Only a colon already followed by a newline in the buffer is a
			// boundary; a colon that merely happens to be the last rune
			// seen so far is not — that depends on arbitrary chunking, not
			// on the text itself, and would violate the one-call vs
			// byte-by-byte invariant. A trailing colon with nothing after
			// it is instead picked up by Finish().
			if i+1 < len(buf) && buf[i+1] == '\n' {
				return i + 1, i + 1, true
			}
		}
	}
	return 0, 0, false
}

func isTerminator(c rune) bool {
	return strings.ContainsRune(chineseTerminators, c) || strings.ContainsRune(asciiTerminators, c)
}

func isClosing(c rune) bool {
	return strings.ContainsRune(closingBrackets, c)
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if !isTerminator(r) && !isClosing(r) && r != ':' && r != ':' {
			return false
		}
	}
	return true
}
