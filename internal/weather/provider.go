package weather

import (
	"context"
	"encoding/json"
)

// API abstracts the tracker's REST endpoints.
type API interface {
	ListRecords(ctx context.Context) ([]Record, error)
	AddRecord(ctx context.Context) error
	DeleteRecord(ctx context.Context, id int64) error
}

// Channel is the shared push channel. On returns a subscription id that Off
// uses to remove exactly that registration.
type Channel interface {
	On(event string, handler func(payload json.RawMessage)) string
	Off(id string)
}

// Store is the contract the in-memory list (and any future store) must satisfy.
// Records are kept newest-first.
type Store interface {
	Replace(records []Record)
	Prepend(record Record)
	PrependUnique(record Record) bool
	Remove(id int64) bool
	Get(id int64) (Record, error)
	List() []Record
	Len() int
}

// Metrics receives counters from the synchronizer.
type Metrics interface {
	EventApplied(event string)
	RequestFailed(op string)
	RecordCount(n int)
}

type noopMetrics struct{}

func (noopMetrics) EventApplied(string)  {}
func (noopMetrics) RequestFailed(string) {}
func (noopMetrics) RecordCount(int)      {}
