package llm

import "strings"

// TagPair names one inline reasoning span vocabulary, e.g. <think>…</think>.
type TagPair struct {
	Open  string
	Close string
}

// DefaultReasoningTags covers the vocabularies local models are known to
// emit.
var DefaultReasoningTags = []TagPair{
	{Open: "<think>", Close: "</think>"},
	{Open: "<reasoning>", Close: "</reasoning>"},
	{Open: "<thought>", Close: "</thought>"},
}

// ReasoningTagsFor builds tag pairs from bare names ("think" becomes
// <think>…</think>). Empty input yields the defaults.
func ReasoningTagsFor(names []string) []TagPair {
	if len(names) == 0 {
		return DefaultReasoningTags
	}
	pairs := make([]TagPair, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		pairs = append(pairs, TagPair{Open: "<" + n + ">", Close: "</" + n + ">"})
	}
	if len(pairs) == 0 {
		return DefaultReasoningTags
	}
	return pairs
}

// span is a run of committed text on one side of the reasoning split, in
// original emission order.
type span struct {
	reasoning bool
	text      string
}

// tagSplitter separates inline reasoning spans from answer text across
// arbitrarily fragmented chunks. A tag may straddle two delivered chunks, so
// a tail that could still grow into a tag is held back until the next Feed
// or the final Flush. The split is invariant to fragmentation: feeding a
// text in any partition of chunks yields the same content/reasoning split
// as feeding it whole.
type tagSplitter struct {
	tags     []TagPair
	inside   bool
	closeTag string
	pending  string
}

func newTagSplitter(tags []TagPair) *tagSplitter {
	if len(tags) == 0 {
		tags = DefaultReasoningTags
	}
	return &tagSplitter{tags: tags}
}

// Feed consumes one delivered chunk and returns the spans it can commit to
// so far, preserving the order text arrived in.
func (s *tagSplitter) Feed(chunk string) []span {
	buf := s.pending + chunk
	s.pending = ""

	var spans []span
	emit := func(reasoning bool, text string) {
		if text == "" {
			return
		}
		if n := len(spans); n > 0 && spans[n-1].reasoning == reasoning {
			spans[n-1].text += text
			return
		}
		spans = append(spans, span{reasoning: reasoning, text: text})
	}

	for buf != "" {
		if s.inside {
			idx := strings.Index(buf, s.closeTag)
			if idx >= 0 {
				emit(true, buf[:idx])
				buf = buf[idx+len(s.closeTag):]
				s.inside = false
				s.closeTag = ""
				continue
			}
			hold := partialTagSuffix(buf, []string{s.closeTag})
			emit(true, buf[:len(buf)-hold])
			s.pending = buf[len(buf)-hold:]
			buf = ""
			continue
		}

		idx, tag := firstOpenTag(buf, s.tags)
		if idx >= 0 {
			emit(false, buf[:idx])
			buf = buf[idx+len(tag.Open):]
			s.inside = true
			s.closeTag = tag.Close
			continue
		}
		hold := partialTagSuffix(buf, openNames(s.tags))
		emit(false, buf[:len(buf)-hold])
		s.pending = buf[len(buf)-hold:]
		buf = ""
	}
	return spans
}

// Flush commits any held-back tail at end of stream. Inside an unclosed tag
// the remainder counts as reasoning rather than being dropped.
func (s *tagSplitter) Flush() []span {
	tail := s.pending
	s.pending = ""
	if tail == "" {
		return nil
	}
	return []span{{reasoning: s.inside, text: tail}}
}

func firstOpenTag(buf string, tags []TagPair) (int, TagPair) {
	best := -1
	var bestTag TagPair
	for _, t := range tags {
		if idx := strings.Index(buf, t.Open); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestTag = t
		}
	}
	return best, bestTag
}

func openNames(tags []TagPair) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Open
	}
	return names
}

// partialTagSuffix returns the length of the longest suffix of buf that is a
// strict prefix of any candidate tag. That suffix may complete into a tag
// once the next chunk arrives, so it cannot be committed yet.
func partialTagSuffix(buf string, tags []string) int {
	max := 0
	for _, tag := range tags {
		limit := len(tag) - 1
		if limit > len(buf) {
			limit = len(buf)
		}
		for n := limit; n > max; n-- {
			if strings.HasPrefix(tag, buf[len(buf)-n:]) {
				max = n
				break
			}
		}
	}
	return max
}
