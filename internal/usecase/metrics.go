package usecase

import "context"

// MetricsSummary represents aggregated diagnostic insights.
type MetricsSummary struct {
	TotalScans        int64   `json:"total_scans"`
	MalignantCount    int64   `json:"malignant_count"`
	HighRiskCount     int64   `json:"high_risk_count"`
	MalignantRate     float64 `json:"malignant_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMetricsSummary aggregates diagnostic metrics from persisted records.
func (p *InferencePipeline) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := p.store.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalScans:        aggregation.TotalScans,
		MalignantCount:    aggregation.MalignantCount,
		HighRiskCount:     aggregation.HighRiskCount,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if aggregation.TotalScans > 0 {
		summary.MalignantRate = float64(aggregation.MalignantCount) / float64(aggregation.TotalScans)
	}

	return summary, nil
}
