package metrics

var (
	runOutcomes = newCounterVec("zkrebalance_runs_total",
		"Total number of workflow run outcomes.",
		"outcome")
	validationVerdicts = newCounterVec("zkrebalance_validations_total",
		"Total number of proof validation verdicts.",
		"outcome")
	validationScores = newHistogramVec("zkrebalance_validation_score",
		"Overall validation score distribution.",
		[]float64{25, 50, 60, 70, 80, 90, 95, 100})
)

// ObserveRunOutcome counts a workflow run reaching a terminal or requeue
// decision; outcome is one of succeeded, failed, requeued.
func ObserveRunOutcome(outcome string) {
	runOutcomes.inc(outcome)
}

// ObserveValidation records one proof validation verdict and its overall score.
func ObserveValidation(valid bool, score int) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	validationVerdicts.inc(outcome)
	validationScores.observe(float64(score))
}
