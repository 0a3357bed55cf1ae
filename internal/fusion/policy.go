// Package fusion combines per-modality similarity scores into a single
// calibrated accept/reject decision.
package fusion

import (
	"biogate/internal/platform/config"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// Policy enumerates per-modality weights, the per-modality floor, and the
// global acceptance threshold. Explicit configuration, not hard-coded logic.
type Policy struct {
	Weights   map[domain.Modality]float64
	Floor     float64
	Threshold float64
}

// NewPolicy builds a Policy from service configuration.
func NewPolicy(cfg config.FusionConfig) Policy {
	return Policy{
		Weights: map[domain.Modality]float64{
			domain.ModalityFingerprint: cfg.FingerprintWeight,
			domain.ModalityFace:        cfg.FaceWeight,
			domain.ModalityIris:        cfg.IrisWeight,
			domain.ModalityVoice:       cfg.VoiceWeight,
		},
		Floor:     cfg.Floor,
		Threshold: cfg.Threshold,
	}
}

// Decision is the fused outcome of one verification attempt.
type Decision struct {
	FusedScore float64
	Accept     bool
	Reason     domain.ReasonCode
}

// Decide fuses the supplied scores into one decision.
//
// The fused score is the weighted average over modalities present; absent
// modalities are excluded from the denominator, never scored as zero. Accept
// requires the fused score to reach the threshold AND every supplied modality
// to reach the floor, so a single strong modality cannot mask total failure
// of another.
//
// Zero supplied modalities is NoEvidence, never a silent reject.
func (p Policy) Decide(scores map[domain.Modality]float64) (Decision, error) {
	if len(scores) == 0 {
		return Decision{}, dErrors.New(dErrors.CodeNoEvidence, "no modality scores supplied")
	}

	var weighted, totalWeight float64
	floorViolated := false
	for modality, score := range scores {
		weight, ok := p.Weights[modality]
		if !ok || weight <= 0 {
			return Decision{}, dErrors.Newf(dErrors.CodeInvalidInput,
				"no positive weight configured for modality %q", modality)
		}
		weighted += weight * score
		totalWeight += weight
		if score < p.Floor {
			floorViolated = true
		}
	}

	fused := weighted / totalWeight

	switch {
	case floorViolated:
		return Decision{FusedScore: fused, Accept: false, Reason: domain.ReasonFloorViolation}, nil
	case fused < p.Threshold:
		return Decision{FusedScore: fused, Accept: false, Reason: domain.ReasonBelowThreshold}, nil
	default:
		return Decision{FusedScore: fused, Accept: true, Reason: domain.ReasonOK}, nil
	}
}
