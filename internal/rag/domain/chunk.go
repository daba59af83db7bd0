package domain

// Chunk is a contiguous span of cleaned text from a Source. Chunks are
// created once by the chunker and never modified; within a source they are
// ordered by Ordinal and by CharStart, and consecutive chunks overlap by the
// configured overlap in characters except at source boundaries.
type Chunk struct {
	ID         string
	SourceID   string
	Ordinal    int // 0-based, dense
	PageStart  *int
	PageEnd    *int
	Section    SectionPath
	Text       string
	CharStart  int
	CharEnd    int // exclusive
	Embedding  []float32
}

// Span reports the chunk's half-open character range into the cleaned
// source text: text[CharStart:CharEnd] == Text.
func (c Chunk) Span() (int, int) { return c.CharStart, c.CharEnd }
