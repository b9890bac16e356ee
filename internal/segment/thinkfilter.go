// Package segment implements the streaming sentence segmentation engine:
// the Think Filter (C2) that separates dialogue from thinking-region bytes,
// and the Sentence Buffer (C1) that turns dialogue bytes into complete
// sentences. Both are pure, allocation-bounded state machines with no I/O,
// so they are unit-testable independently of the concurrency that drives
// them in the orchestrator.
package segment

var (
	thinkOpen  = []byte("<think>")
	thinkClose = []byte("</think>")
)

// Mode classifies a span of bytes emitted by the Think Filter.
type Mode int

const (
	Dialogue Mode = iota
	Thinking
)

// ThinkFilter tracks <think>...</think> nesting across chunk boundaries.
// Nested opens have no extra effect: only a </think> returns to Dialogue.
// It never buffers more than len("</think>")-1 = 7 trailing bytes.
type ThinkFilter struct {
	mode    Mode
	pending []byte
}

// NewThinkFilter returns a filter starting in Dialogue mode.
func NewThinkFilter() *ThinkFilter {
	return &ThinkFilter{mode: Dialogue}
}

// Add feeds the next chunk of bytes and returns the dialogue-mode bytes
// extracted from it (which may be empty). Thinking-mode bytes are dropped.
func (f *ThinkFilter) Add(chunk []byte) []byte {
	dialogue, _ := f.AddSplit(chunk)
	return dialogue
}

// AddSplit feeds the next chunk of bytes and returns both the dialogue-mode
// and thinking-mode bytes extracted from it, so a caller that wants to
// surface thinking content (e.g. as a UI "thinking" indicator) can do so
// instead of discarding it outright.
func (f *ThinkFilter) AddSplit(chunk []byte) (dialogue, thinking []byte) {
	buf := append(f.pending, chunk...)
	f.pending = nil

	i := 0
	for i < len(buf) {
		switch f.mode {
		case Dialogue:
			matched, partial := matchAt(buf, i, thinkOpen)
			if matched {
				i += len(thinkOpen)
				f.mode = Thinking
				continue
			}
			if partial {
				f.pending = append(f.pending, buf[i:]...)
				return dialogue, thinking
			}
			dialogue = append(dialogue, buf[i])
			i++
		case Thinking:
			matched, partial := matchAt(buf, i, thinkClose)
			if matched {
				i += len(thinkClose)
				f.mode = Dialogue
				continue
			}
			if partial {
				f.pending = append(f.pending, buf[i:]...)
				return dialogue, thinking
			}
			thinking = append(thinking, buf[i])
			i++
		}
	}
	return dialogue, thinking
}

// Flush resolves any trailing buffered bytes at end-of-stream: unresolved
// Dialogue-mode candidates were never a tag and are emitted as dialogue;
// unresolved Thinking-mode candidates are dropped, same as thinking bytes.
func (f *ThinkFilter) Flush() []byte {
	dialogue, _ := f.FlushSplit()
	return dialogue
}

// FlushSplit is the AddSplit-paired end-of-stream flush.
func (f *ThinkFilter) FlushSplit() (dialogue, thinking []byte) {
	if len(f.pending) == 0 {
		return nil, nil
	}
	if f.mode == Dialogue {
		dialogue = f.pending
	} else {
		thinking = f.pending
	}
	f.pending = nil
	return dialogue, thinking
}

// matchAt reports whether tag matches buf starting at i (matched=true), or
// whether buf[i:] is a non-empty proper prefix of tag that ran out of bytes
// before a mismatch (partial=true, meaning more data could still complete
// the tag). Otherwise both are false and buf[i] is an ordinary byte.
func matchAt(buf []byte, i int, tag []byte) (matched, partial bool) {
	avail := len(buf) - i
	k := len(tag)
	if avail < k {
		k = avail
	}
	for j := 0; j < k; j++ {
		if buf[i+j] != tag[j] {
			return false, false
		}
	}
	if k == len(tag) {
		return true, false
	}
	return false, true
}
