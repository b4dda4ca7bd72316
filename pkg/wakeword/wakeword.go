// Package wakeword defines the wake-word detector capability consumed by
// the satellite core and the bridge that carries microphone audio from the
// capture thread into the event loop.
//
// The scoring models themselves (micro wake word, open wake word, the
// "stop" word) live behind the Detector interface so the fusion loop is
// agnostic to model family.
package wakeword

// Result is one detector verdict for one audio chunk.
type Result struct {
	Activated bool
	Score     float64
	Threshold float64
}

// Detector scores streaming audio chunks for one trained phrase.
type Detector interface {
	// ID uniquely identifies the loaded model.
	ID() string

	// Phrase is the human-readable wake phrase ("okay nabu", "stop").
	Phrase() string

	// Score consumes one PCM16 chunk and reports activation.
	Score(chunk []byte) Result
}

// ThresholdSetter is implemented by detectors whose activation threshold
// can be tuned at runtime.
type ThresholdSetter interface {
	// SetThreshold overrides the activation threshold.
	SetThreshold(threshold float64)

	// UseModelDefault restores the model's built-in threshold.
	UseModelDefault()
}
