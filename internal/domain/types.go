package domain

// JobStatus tracks the lifecycle of a remote processing job.
type JobStatus string

const (
	JobStatusUnknown   JobStatus = "unknown"
	JobStatusDrafted   JobStatus = "drafted"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further status change can follow.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobState is the reconciled view of one remote job. Progress is a
// fraction in [0,1]. Seq orders updates across pull and push sources so
// a stale pull response cannot regress past a newer push event.
type JobState struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	PreviewURL string    `json:"previewUrl,omitempty"`
	Error      string    `json:"error,omitempty"`
	Seq        int64     `json:"seq"`
}

// WizardStage is one phase of the analyze/cluster/optimize/generate flow.
type WizardStage string

const (
	StageAnalyze  WizardStage = "analyze"
	StageCluster  WizardStage = "cluster"
	StageOptimize WizardStage = "optimize"
	StageGenerate WizardStage = "generate"
)

// RepresentativeFace describes the best scoring face sample of a cluster.
type RepresentativeFace struct {
	Gender string  `json:"gender"`
	Age    int     `json:"age"`
	Score  float64 `json:"score"`
}

// FaceCluster groups detected faces judged to belong to one person.
// Immutable once received from the cluster stage.
type FaceCluster struct {
	Representative RepresentativeFace `json:"representative"`
	FaceCount      int                `json:"faceCount"`
	Thumbnail      string             `json:"thumbnail"`
}

// AnalysisResult summarizes a completed wizard analysis run.
type AnalysisResult struct {
	SceneCount int     `json:"sceneCount"`
	FaceCount  int     `json:"faceCount"`
	Duration   float64 `json:"duration"`
}

// SettingsSuggestion carries processing parameters proposed by the
// service after analysis. Applied only on explicit user confirmation.
type SettingsSuggestion struct {
	FaceSwapper    bool    `json:"faceSwapper"`
	FaceEnhancer   bool    `json:"faceEnhancer"`
	FrameEnhancer  bool    `json:"frameEnhancer"`
	EnhancerBlend  int     `json:"enhancerBlend"`
	ReferenceScore float64 `json:"referenceScore"`
	SkipAudio      bool    `json:"skipAudio"`
}

// Region is an axis-aligned rectangle in native media pixel space with
// X1 < X2 and Y1 < Y2, both corners clamped to the media bounds.
type Region struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the region.
func (r Region) Width() float64 { return r.X2 - r.X1 }

// Height returns the vertical extent of the region.
func (r Region) Height() float64 { return r.Y2 - r.Y1 }
