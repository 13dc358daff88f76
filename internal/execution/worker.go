package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/models"
)

type MintJobArgs struct {
	RequestID uuid.UUID `json:"request_id"`
}

func (MintJobArgs) Kind() string { return "mint_approved_request" }

// InsertOpts runs each mint once. A failed mint is recorded on the request and
// the user resubmits; the job queue never retries a chain call on its own.
func (MintJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// Minter is the contract the worker needs from the mint lifecycle.
type Minter interface {
	Mint(ctx context.Context, requestID uuid.UUID) (*models.MintRequest, error)
}

type MintWorker struct {
	river.WorkerDefaults[MintJobArgs]
	minter Minter
	log    *slog.Logger
}

func NewMintWorker(m Minter, log *slog.Logger) *MintWorker {
	if log == nil {
		log = slog.Default()
	}
	return &MintWorker{minter: m, log: log}
}

func (w *MintWorker) Work(ctx context.Context, job *river.Job[MintJobArgs]) error {
	req, err := w.minter.Mint(ctx, job.Args.RequestID)
	switch {
	case err == nil:
		w.log.Info("mint job done", "request_id", job.Args.RequestID, "tx_hash", deref(req.TxHash))
		return nil
	case errors.Is(err, apperr.ErrChain), errors.Is(err, apperr.ErrState), errors.Is(err, apperr.ErrNotFound):
		// The request already carries the outcome; retrying cannot change it.
		w.log.Warn("mint job finished without minting", "request_id", job.Args.RequestID, "error", err)
		return nil
	default:
		return fmt.Errorf("mint request %s: %w", job.Args.RequestID, err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
