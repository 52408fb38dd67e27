package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/oncoscan/internal/logging"
	"github.com/example/oncoscan/internal/repository"
)

// History returns the clinician's diagnostic records, most recent scan
// first. The store hands back unsorted rows; ordering happens here, with a
// stable sort so records sharing a timestamp keep their insertion order.
// Each call re-queries the store, and an unknown clinician yields an empty
// list rather than an error.
func (p *InferencePipeline) History(ctx context.Context, clinicianID string) ([]*repository.DiagnosticRecord, error) {
	recs, err := p.store.FindByClinician(ctx, clinicianID)
	if err != nil {
		return nil, logging.NewOperationError("pipeline.history", "", fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ScanTimestamp.After(recs[j].ScanTimestamp)
	})

	if recs == nil {
		recs = []*repository.DiagnosticRecord{}
	}
	return recs, nil
}
