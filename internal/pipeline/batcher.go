package pipeline

import "github.com/roasbeef/councilreview/internal/sourcereader"

// DefaultMaxBatchSize is the default greedy-pack byte budget per batch.
const DefaultMaxBatchSize = 100_000

// BatchConcurrency bounds how many batches run against the council at
// once.
const BatchConcurrency = 2

// Batch packs FileContents into batches of at most maxBatchSize chars,
// counting path length plus content length. A file whose own size exceeds
// the cap becomes a singleton batch. Batches preserve file order.
func Batch(files []sourcereader.FileContent, maxBatchSize int) [][]sourcereader.FileContent {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	var batches [][]sourcereader.FileContent
	var current []sourcereader.FileContent
	currentSize := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentSize = 0
		}
	}

	for _, f := range files {
		size := len(f.Path) + len(f.Content)

		if size > maxBatchSize {
			flush()
			batches = append(batches, []sourcereader.FileContent{f})
			continue
		}

		if currentSize+size > maxBatchSize {
			flush()
		}

		current = append(current, f)
		currentSize += size
	}
	flush()

	return batches
}
