// Package batch commits document sets to a store in fixed-size write groups.
// Batches are committed one at a time in input order; the first failure stops
// the collection, leaving earlier batches applied and later ones unattempted.
package batch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rowjay/docmigrate/internal/document"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/logging"
)

// Writer commits one write group atomically.
type Writer interface {
	WriteBatch(ctx context.Context, collection string, docs []document.Document) error
}

type Result struct {
	Collection       string  `json:"collection"`
	BatchesTotal     int     `json:"batchesTotal"`
	BatchesCommitted int     `json:"batchesCommitted"`
	DocumentsWritten int     `json:"documentsWritten"`
	Errors           []error `json:"-"`
}

// Partition splits docs into ceil(len/size) slices of at most size documents,
// preserving order. The slices share docs' backing array.
func Partition(docs []document.Document, size int) ([][]document.Document, error) {
	if size <= 0 {
		return nil, errs.Configf("batch size must be positive, got %d", size)
	}
	batches := make([][]document.Document, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		batches = append(batches, docs[start:end])
	}
	return batches, nil
}

type Executor struct {
	log zerolog.Logger
}

func NewExecutor(log zerolog.Logger) *Executor {
	return &Executor{log: logging.For(log, "batch")}
}

// WriteAll commits docs in batches. A failed batch is returned as a
// CollectionTransferError and is never retried.
func (e *Executor) WriteAll(ctx context.Context, w Writer, collection string, docs []document.Document, size int) (Result, error) {
	result := Result{Collection: collection}
	batches, err := Partition(docs, size)
	if err != nil {
		return result, err
	}
	result.BatchesTotal = len(batches)

	for i, b := range batches {
		if err := w.WriteBatch(ctx, collection, b); err != nil {
			terr := &errs.CollectionTransferError{Collection: collection, Batch: i, Cause: err}
			result.Errors = append(result.Errors, terr)
			e.log.Error().Err(err).
				Str("collection", collection).
				Int("batch", i+1).
				Int("batches", len(batches)).
				Int("committed", result.BatchesCommitted).
				Msg("batch failed")
			return result, terr
		}
		result.BatchesCommitted++
		result.DocumentsWritten += len(b)
		e.log.Debug().
			Str("collection", collection).
			Int("batch", i+1).
			Int("batches", len(batches)).
			Int("documents", len(b)).
			Msg("batch committed")
	}
	return result, nil
}
