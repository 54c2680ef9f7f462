package constants

// Stage is a state of the analysis pipeline.
type Stage string

const (
	StageClassifying Stage = "Classifying"
	StageExtracting  Stage = "Extracting"
	StageTruncating  Stage = "Truncating"
	StagePrompting   Stage = "Prompting"
	StageCompleting  Stage = "Completing"
	StageNormalizing Stage = "Normalizing"
	StageDone        Stage = "Done"
	StageFailed      Stage = "Failed"
)

// JobStatus is the canonical status for persisted analysis records.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)
