package dataset

// Iterator yields the records of a single partition in order.
// Iterators are single-use and must not be shared across goroutines.
type Iterator interface {
	// Next returns the next record, or ok=false once the partition
	// is exhausted.
	Next() (record []byte, ok bool)
}

// Dataset is a fixed-size partitioned collection of records.
// Implementations must be safe for concurrent Partition calls and must
// return a fresh Iterator on every call.
type Dataset interface {
	// NumPartitions returns the partition count, fixed for the
	// dataset's lifetime.
	NumPartitions() int

	// Partition returns a fresh iterator over partition i.
	// Out-of-range indexes yield an empty iterator.
	Partition(i int) Iterator
}

// Slices implements Dataset over in-memory record slices.
// Records are copied on ingest and on read to prevent aliasing.
type Slices struct {
	parts [][][]byte
}

// FromBytes builds an in-memory dataset with one partition per argument.
func FromBytes(parts ...[][]byte) *Slices {
	copied := make([][][]byte, len(parts))
	for i, part := range parts {
		records := make([][]byte, len(part))
		for j, rec := range part {
			stored := make([]byte, len(rec))
			copy(stored, rec)
			records[j] = stored
		}
		copied[i] = records
	}
	return &Slices{parts: copied}
}

// FromStrings builds an in-memory dataset from string records, one
// partition per argument.
func FromStrings(parts ...[]string) *Slices {
	copied := make([][][]byte, len(parts))
	for i, part := range parts {
		records := make([][]byte, len(part))
		for j, rec := range part {
			records[j] = []byte(rec)
		}
		copied[i] = records
	}
	return &Slices{parts: copied}
}

// NumPartitions returns the partition count.
func (s *Slices) NumPartitions() int {
	return len(s.parts)
}

// Partition returns a fresh iterator over partition i.
// Out-of-range indexes yield an empty iterator.
func (s *Slices) Partition(i int) Iterator {
	if i < 0 || i >= len(s.parts) {
		return &sliceIterator{}
	}
	return &sliceIterator{records: s.parts[i]}
}

type sliceIterator struct {
	records [][]byte
	pos     int
}

func (it *sliceIterator) Next() ([]byte, bool) {
	if it.pos >= len(it.records) {
		return nil, false
	}
	rec := it.records[it.pos]
	it.pos++

	// Return a copy to prevent external modification
	out := make([]byte, len(rec))
	copy(out, rec)
	return out, true
}

// Collect drains an iterator into a slice. Useful for templates that
// need the whole partition at once.
func Collect(it Iterator) [][]byte {
	var out [][]byte
	for {
		rec, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

// CollectStrings drains an iterator, converting each record to a string.
func CollectStrings(it Iterator) []string {
	var out []string
	for {
		rec, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, string(rec))
	}
}
