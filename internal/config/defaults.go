package config

import "face-studio/internal/domain"

// DefaultSettings returns baseline configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		ServiceURL:     "http://127.0.0.1:7860",
		PollIntervalMs: 1000,
		FaceSwapper:    true,
		FaceEnhancer:   false,
		FrameEnhancer:  false,
		EnhancerBlend:  80,
		ReferenceScore: 0.6,
		KeepFPS:        true,
	}
}
