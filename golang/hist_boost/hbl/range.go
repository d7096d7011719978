package hbl

//Range is an iterator over half interval [begin, end) with the step step.
type Range struct {
	end, step, pos int
}

//NewRange initializes a new iterator over a half interval.
func NewRange(start, end, step int) *Range {
	return &Range{end: end, step: step, pos: start}
}

//GetNext returns the next element from the iterator and moves iterator to the next position.
func (r *Range) GetNext() int {
	val := r.pos
	r.pos += r.step
	return val
}

//HasNext checks whether there are more values in the iterator.
func (r *Range) HasNext() bool {
	if r.step > 0 {
		return r.pos < r.end
	}
	return r.pos > r.end
}

//ChunkRanges splits [0, n) into at most chunks contiguous ranges of nearly equal size.
//The split depends only on n and chunks.
func ChunkRanges(n, chunks int) []*Range {
	if chunks < 1 {
		chunks = 1
	}
	if chunks > n {
		chunks = n
	}
	ranges := make([]*Range, 0, chunks)
	begin := 0
	for c := 0; c < chunks; c++ {
		size := n / chunks
		if c < n%chunks {
			size++
		}
		ranges = append(ranges, NewRange(begin, begin+size, 1))
		begin += size
	}
	return ranges
}
