package domain

// Settings is the closed processing configuration sent to the service
// with each submitted job. Every field is validated at the config
// boundary before persistence.
type Settings struct {
	ServiceURL     string `json:"serviceUrl"`
	PollIntervalMs int    `json:"pollIntervalMs"`

	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`

	FaceSwapper   bool `json:"faceSwapper"`
	FaceEnhancer  bool `json:"faceEnhancer"`
	FrameEnhancer bool `json:"frameEnhancer"`

	EnhancerBlend  int     `json:"enhancerBlend"`
	ReferenceScore float64 `json:"referenceScore"`
	SkipAudio      bool    `json:"skipAudio"`
	KeepFPS        bool    `json:"keepFps"`

	// Optional processing region in native media pixels.
	Region *Region `json:"region,omitempty"`
}
