package repositories

import "context"

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// TransactionManager is the unit-of-work boundary. Phase A and Phase C of
// a turn each run inside exactly one ExecTx call; the LLM wait between
// them must not.
type TransactionManager interface {
	// ExecTx executes a function within a transaction
	ExecTx(ctx context.Context, fn TxFn) error
}
