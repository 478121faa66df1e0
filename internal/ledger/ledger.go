package ledger

// Store defines the run ledger operations.
// Consumers depend on this interface rather than the concrete *DB type.
type Store interface {
	SaveRun(rec Record) error
	ListRuns(limit, offset int) ([]Run, int, error)
	GetRun(id string) (*Record, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
