// Package chunker splits cleaned source text into overlapping, structurally
// snapped windows suitable for embedding and citation.
package chunker

import (
	"regexp"
	"sort"
	"strings"

	"groundedqa/internal/rag/domain"
)

// Options configures the sliding-window algorithm.
type Options struct {
	// Target is the ideal chunk size in characters (T).
	Target int
	// Overlap is the number of characters consecutive chunks share (O).
	Overlap int
	// Tolerance bounds how far a window boundary may be snapped to find a
	// structural boundary before falling back to a hard cut.
	Tolerance int
}

// DefaultOptions returns the standard window: target 5000 chars, overlap 800.
func DefaultOptions() Options {
	return Options{Target: 5000, Overlap: 800, Tolerance: 300}
}

// PageBoundary marks the character offset at which a new page begins.
type PageBoundary struct {
	CharStart int
	Page      int
}

// SectionBoundary marks the character offset at which a heading path
// becomes active.
type SectionBoundary struct {
	CharStart int
	Path      domain.SectionPath
}

// StructureMap carries the page/section metadata the chunker stamps onto
// each produced chunk. Both slices must be sorted ascending by CharStart.
type StructureMap struct {
	Pages    []PageBoundary
	Sections []SectionBoundary
}

// Chunker splits cleaned text into an ordered sequence of chunks.
type Chunker interface {
	Chunk(text string, structure StructureMap, opt Options) ([]domain.Chunk, error)
}

// SlidingWindowChunker splits text with a sliding window:
// a window of Target characters with Overlap characters of carry-over,
// snapped to the nearest structural boundary (paragraph, then sentence,
// then word) within Tolerance before falling back to a hard cut.
type SlidingWindowChunker struct{}

var (
	paragraphBreakRe = regexp.MustCompile(`\n\s*\n`)
	sentenceEndRe    = regexp.MustCompile(`[.!?]["')\]]?\s+`)
	wordBoundaryRe   = regexp.MustCompile(`\s+`)
)

func (SlidingWindowChunker) Chunk(text string, structure StructureMap, opt Options) ([]domain.Chunk, error) {
	if opt.Target <= 0 {
		opt = DefaultOptions()
	}
	n := len(text)
	if n == 0 {
		return nil, nil
	}

	var chunks []domain.Chunk
	start := 0
	ordinal := 0
	for start < n {
		idealEnd := start + opt.Target
		var end int
		if idealEnd >= n {
			end = n
		} else {
			end = snapBoundary(text, start, idealEnd, opt.Tolerance)
		}
		if end <= start {
			end = min(start+1, n)
		}

		c := domain.Chunk{
			Ordinal:   ordinal,
			Text:      text[start:end],
			CharStart: start,
			CharEnd:   end,
		}
		stampPage(&c, structure.Pages)
		stampSection(&c, structure.Sections)
		chunks = append(chunks, c)
		ordinal++

		if end >= n {
			break
		}
		next := end - opt.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// snapBoundary looks for the structural boundary closest to idealEnd within
// [idealEnd-tolerance, idealEnd+tolerance], preferring paragraph over
// sentence over word boundaries. It falls back to idealEnd itself (a hard
// cut) when nothing is found in range.
func snapBoundary(text string, start, idealEnd, tolerance int) int {
	n := len(text)
	lo := idealEnd - tolerance
	if lo < start {
		lo = start
	}
	hi := idealEnd + tolerance
	if hi > n {
		hi = n
	}
	window := text[lo:hi]

	if at, ok := nearestMatch(paragraphBreakRe, window, lo, idealEnd); ok {
		return at
	}
	if at, ok := nearestMatch(sentenceEndRe, window, lo, idealEnd); ok {
		return at
	}
	if at, ok := nearestMatch(wordBoundaryRe, window, lo, idealEnd); ok {
		return at
	}
	return idealEnd
}

// nearestMatch returns the absolute offset (end of match) closest to
// idealEnd among all matches of re within window (itself at absolute
// position windowOffset).
func nearestMatch(re *regexp.Regexp, window string, windowOffset, idealEnd int) (int, bool) {
	locs := re.FindAllStringIndex(window, -1)
	if len(locs) == 0 {
		return 0, false
	}
	best := -1
	bestDist := -1
	for _, loc := range locs {
		at := windowOffset + loc[1]
		dist := at - idealEnd
		if dist < 0 {
			dist = -dist
		}
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			best = at
		}
	}
	return best, best != -1
}

func stampPage(c *domain.Chunk, pages []PageBoundary) {
	if len(pages) == 0 {
		return
	}
	startPage := pageAt(pages, c.CharStart)
	endOffset := c.CharEnd - 1
	if endOffset < c.CharStart {
		endOffset = c.CharStart
	}
	endPage := pageAt(pages, endOffset)
	c.PageStart = &startPage
	c.PageEnd = &endPage
}

func pageAt(pages []PageBoundary, offset int) int {
	idx := sort.Search(len(pages), func(i int) bool { return pages[i].CharStart > offset })
	if idx == 0 {
		return pages[0].Page
	}
	return pages[idx-1].Page
}

func stampSection(c *domain.Chunk, sections []SectionBoundary) {
	if len(sections) == 0 {
		return
	}
	idx := sort.Search(len(sections), func(i int) bool { return sections[i].CharStart > c.CharStart })
	if idx == 0 {
		c.Section = nil
		return
	}
	c.Section = sections[idx-1].Path
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// BuildStructureMap derives page and section boundaries from a plain text
// source using form-feed (\f) page separators and markdown-style headings
// ("#", "##", ...) as section markers. Extract adapters that have richer
// structural information (e.g. a real PDF parser's page layout) should
// build a StructureMap directly instead of calling this.
func BuildStructureMap(text string) StructureMap {
	var sm StructureMap
	page := 0
	sm.Pages = append(sm.Pages, PageBoundary{CharStart: 0, Page: page})
	for i, r := range text {
		if r == '\f' {
			page++
			sm.Pages = append(sm.Pages, PageBoundary{CharStart: i + 1, Page: page})
		}
	}

	var stack []string
	lines := strings.Split(text, "\n")
	offset := 0
	for _, line := range lines {
		body := strings.TrimLeft(line, "\f")
		trimmed := strings.TrimLeft(body, "#")
		level := len(body) - len(trimmed)
		heading := strings.TrimSpace(trimmed)
		if level > 0 && level <= 6 && heading != "" {
			if level > len(stack) {
				for len(stack) < level-1 {
					stack = append(stack, "")
				}
				stack = append(stack, heading)
			} else {
				stack = stack[:level-1]
				stack = append(stack, heading)
			}
			path := make(domain.SectionPath, len(stack))
			copy(path, stack)
			sm.Sections = append(sm.Sections, SectionBoundary{CharStart: offset, Path: path})
		}
		offset += len(line) + 1
	}
	return sm
}
