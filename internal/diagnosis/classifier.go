// Package diagnosis maps scorer confidences to diagnosis labels and risk
// tiers.
package diagnosis

import "fmt"

// Label is the diagnosis outcome for a scan.
type Label string

// Risk is the urgency tier attached to a diagnosis.
type Risk string

const (
	Malignant Label = "Malignant"
	Benign    Label = "Benign"

	RiskHigh Risk = "High"
	RiskLow  Risk = "Low"
)

// The two cut points are independent on purpose: a confidence of 0.6 reads
// as malignant but low risk. Both comparisons are strict.
const (
	malignantThreshold = 0.5
	highRiskThreshold  = 0.7
)

// Classify maps a confidence in [0, 1] to a diagnosis label and risk tier.
// Confidences outside [0, 1] are a caller bug; the scorer contract
// guarantees the range.
func Classify(confidence float64) (Label, Risk) {
	label := Benign
	if confidence > malignantThreshold {
		label = Malignant
	}

	risk := RiskLow
	if confidence > highRiskThreshold {
		risk = RiskHigh
	}

	return label, risk
}

// FormatConfidence renders a confidence as a percentage with two decimals,
// e.g. 0.8734 becomes "87.34%".
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.2f%%", confidence*100)
}
