// Package chunk splits documents into ordered, overlapping character
// windows for embedding and retrieval.
package chunk

// Chunk is a retrievable unit of document text.
type Chunk struct {
	// Content is the window text. Authoritative excerpt source for citations.
	Content string
	// Source is the originating file path.
	Source string
	// Page is the 1-based page number when the loader reports one; 0 otherwise.
	Page int
	// Index is the ordinal position of this chunk within its document.
	Index int
}

// Splitter produces fixed-size character windows with overlap.
// Stride is Size - Overlap; the last window may be shorter.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter creates a splitter. Size must be positive and Overlap
// must be smaller than Size; config validation guarantees this.
func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{Size: size, Overlap: overlap}
}

// Split windows a single document's text into chunks.
// Empty text yields no chunks. Chunk indexes start at startIndex so a
// multi-page document keeps one ordinal sequence across pages.
func (s *Splitter) Split(text, source string, page, startIndex int) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	stride := s.Size - s.Overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += stride {
		end := start + s.Size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			Content: string(runes[start:end]),
			Source:  source,
			Page:    page,
			Index:   startIndex + len(chunks),
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}
