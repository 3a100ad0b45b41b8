package ledger

import (
	"context"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

// Inserter is the ingestion side of the ledger. Insert returns an error of
// kind faults.KindDuplicate when the tag already exists.
type Inserter interface {
	Insert(ctx context.Context, req model.TransferRequest) error
}

// AccountDirectory resolves signing identities; read-only.
type AccountDirectory interface {
	Account(ctx context.Context, userID string) (model.Account, error)
}

// Session is one store connection scoped to a single settlement.
type Session interface {
	AccountDirectory
	// Record applies the outcome to a pending row. It reports false when the row
	// was missing or no longer pending.
	Record(ctx context.Context, o model.Outcome) (bool, error)
	Release()
}

// Store is the full ledger surface used by the pipeline.
type Store interface {
	Inserter
	// Acquire fails with faults.KindPoolAcquisition when no connection can be
	// obtained.
	Acquire(ctx context.Context) (Session, error)
}
