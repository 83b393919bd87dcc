package models

// Batch is an ordered, non-empty run of records pulled from one source
// partition. Ordered is true when the source guarantees order within the
// partition; dispatch must then preserve the slice order.
type Batch struct {
	Source    string
	Partition string
	Ordered   bool
	Records   []Record
}

func (b Batch) Len() int { return len(b.Records) }

func (b Batch) Empty() bool { return len(b.Records) == 0 }

// LastOffset is the highest offset in the batch, which is where the
// partition checkpoint moves once the whole batch is resolved.
func (b Batch) LastOffset() int64 {
	var max int64 = -1
	for _, r := range b.Records {
		if r.offset > max {
			max = r.offset
		}
	}
	return max
}

// Subset returns a batch with the same partition identity.
func (b Batch) Subset(records []Record) Batch {
	return Batch{
		Source:    b.Source,
		Partition: b.Partition,
		Ordered:   b.Ordered,
		Records:   records,
	}
}
