package wakeword

// Sensitivity presets map a user-facing name to an activation threshold.
// Lower thresholds trip more easily.
const (
	PresetModelDefault  = "model_default"
	PresetStrict        = "strict"
	PresetDefault       = "default"
	PresetSensitive     = "sensitive"
	PresetVerySensitive = "very_sensitive"
	PresetCustom        = "custom"
)

const (
	thresholdStrict        = 0.60
	thresholdDefault       = 0.50
	thresholdSensitive     = 0.45
	thresholdVerySensitive = 0.40

	// Custom thresholds are clamped to this range.
	thresholdMin = 0.10
	thresholdMax = 0.95
)

// NormalizePreset maps arbitrary input to a known preset name, falling back
// to the model default.
func NormalizePreset(preset string) string {
	switch preset {
	case PresetStrict, PresetDefault, PresetSensitive, PresetVerySensitive, PresetCustom:
		return preset
	default:
		return PresetModelDefault
	}
}

// ClampThreshold bounds a custom threshold to the supported range.
func ClampThreshold(v float64) float64 {
	if v < thresholdMin {
		return thresholdMin
	}
	if v > thresholdMax {
		return thresholdMax
	}
	return v
}

// ResolveThreshold returns the activation threshold for a preset. ok is
// false for the model-default preset, meaning the detector should keep its
// built-in threshold. custom is only consulted for PresetCustom.
func ResolveThreshold(preset string, custom float64) (threshold float64, ok bool) {
	switch NormalizePreset(preset) {
	case PresetStrict:
		return thresholdStrict, true
	case PresetDefault:
		return thresholdDefault, true
	case PresetSensitive:
		return thresholdSensitive, true
	case PresetVerySensitive:
		return thresholdVerySensitive, true
	case PresetCustom:
		return ClampThreshold(custom), true
	default:
		return 0, false
	}
}

// Apply configures d for the given preset if it supports runtime threshold
// tuning. Detectors without ThresholdSetter are left unchanged.
func Apply(d Detector, preset string, custom float64) {
	setter, supported := d.(ThresholdSetter)
	if !supported {
		return
	}
	if threshold, ok := ResolveThreshold(preset, custom); ok {
		setter.SetThreshold(threshold)
	} else {
		setter.UseModelDefault()
	}
}
