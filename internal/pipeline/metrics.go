package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics are the counters of one pipe, shared by all of its workers.
type Metrics struct {
	name string

	batchesFetched       atomic.Uint64
	recordsRead          atomic.Uint64
	recordsFiltered      atomic.Uint64 // dropped by the filter
	recordsEnriched      atomic.Uint64
	enrichmentFailures   atomic.Uint64 // failed attempts, not records
	recordsDispatched    atomic.Uint64
	dispatchFailures     atomic.Uint64 // failed attempts, not records
	duplicatesSkipped    atomic.Uint64
	recordsDeadLettered  atomic.Uint64
	deadLetterEntries    atomic.Uint64
	checkpointsCommitted atomic.Uint64

	totalDispatchTimeMs atomic.Int64
	dispatchTimeCount   atomic.Uint64
}

func NewMetrics(name string) *Metrics {
	return &Metrics{name: name}
}

func (m *Metrics) BatchFetched(records int) {
	m.batchesFetched.Add(1)
	m.recordsRead.Add(uint64(records))
}

func (m *Metrics) Filtered(n int)         { m.recordsFiltered.Add(uint64(n)) }
func (m *Metrics) Enriched(n int)         { m.recordsEnriched.Add(uint64(n)) }
func (m *Metrics) EnrichmentFailed()      { m.enrichmentFailures.Add(1) }
func (m *Metrics) Dispatched(n int)       { m.recordsDispatched.Add(uint64(n)) }
func (m *Metrics) DispatchFailed(n int)   { m.dispatchFailures.Add(uint64(n)) }
func (m *Metrics) DuplicateSkipped(n int) { m.duplicatesSkipped.Add(uint64(n)) }
func (m *Metrics) CheckpointCommitted()   { m.checkpointsCommitted.Add(1) }

func (m *Metrics) DeadLettered(records int) {
	m.deadLetterEntries.Add(1)
	m.recordsDeadLettered.Add(uint64(records))
}

// RecordDispatchTime records the duration of one dispatch call.
func (m *Metrics) RecordDispatchTime(d time.Duration) {
	m.totalDispatchTimeMs.Add(d.Milliseconds())
	m.dispatchTimeCount.Add(1)
}

// Stats is a snapshot of Metrics.
type Stats struct {
	Name                 string  `json:"name"`
	BatchesFetched       uint64  `json:"batches_fetched"`
	RecordsRead          uint64  `json:"records_read"`
	RecordsFiltered      uint64  `json:"records_filtered"`
	RecordsEnriched      uint64  `json:"records_enriched"`
	EnrichmentFailures   uint64  `json:"enrichment_failures"`
	RecordsDispatched    uint64  `json:"records_dispatched"`
	DispatchFailures     uint64  `json:"dispatch_failures"`
	DuplicatesSkipped    uint64  `json:"duplicates_skipped"`
	RecordsDeadLettered  uint64  `json:"records_dead_lettered"`
	DeadLetterEntries    uint64  `json:"dead_letter_entries"`
	CheckpointsCommitted uint64  `json:"checkpoints_committed"`
	AvgDispatchTimeMs    float64 `json:"avg_dispatch_time_ms"`
}

func (m *Metrics) Stats() Stats {
	var avg float64
	if n := m.dispatchTimeCount.Load(); n > 0 {
		avg = float64(m.totalDispatchTimeMs.Load()) / float64(n)
	}
	return Stats{
		Name:                 m.name,
		BatchesFetched:       m.batchesFetched.Load(),
		RecordsRead:          m.recordsRead.Load(),
		RecordsFiltered:      m.recordsFiltered.Load(),
		RecordsEnriched:      m.recordsEnriched.Load(),
		EnrichmentFailures:   m.enrichmentFailures.Load(),
		RecordsDispatched:    m.recordsDispatched.Load(),
		DispatchFailures:     m.dispatchFailures.Load(),
		DuplicatesSkipped:    m.duplicatesSkipped.Load(),
		RecordsDeadLettered:  m.recordsDeadLettered.Load(),
		DeadLetterEntries:    m.deadLetterEntries.Load(),
		CheckpointsCommitted: m.checkpointsCommitted.Load(),
		AvgDispatchTimeMs:    avg,
	}
}
