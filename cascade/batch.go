// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

// fetchChunkSize bounds the id chunks used when the collector fetches
// referencing rows. Kept well under every dialect's parameter limit so a
// chunked IN query is always a single statement.
const fetchChunkSize = 100

// batchRange is one [Start, End) slice of the caller's record list.
type batchRange struct {
	Start int
	End   int
}

// batchSize computes the largest row count per statement such that
// rows*fieldsPerRow stays within maxParams, clamped by override when set.
// Never returns less than 1: a single row wider than the limit still has to
// go somewhere, and every dialect here accepts one row.
func batchSize(fieldsPerRow, maxParams, override int) int {
	size := 1
	if fieldsPerRow > 0 && maxParams > 0 {
		if n := maxParams / fieldsPerRow; n > size {
			size = n
		}
	}
	if override > 0 && override < size {
		size = override
	}
	return size
}

// splitBatches slices n records into consecutive ranges of at most size,
// preserving input order.
func splitBatches(n, size int) []batchRange {
	if n <= 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	out := make([]batchRange, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, batchRange{Start: start, End: end})
	}
	return out
}

// chunkIDs splits ids into chunks of at most size for IN-list statements.
func chunkIDs(ids []any, size int) [][]any {
	if len(ids) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	out := make([][]any, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
