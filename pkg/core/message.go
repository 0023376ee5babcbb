package core

import (
	"time"
)

// JobStatus represents the queue lifecycle state of a message.
type JobStatus string

const (
	StatusReady      JobStatus = "READY"
	StatusProcessing JobStatus = "PROCESSING"
	StatusDone       JobStatus = "DONE"
	StatusFailed     JobStatus = "FAILED"
)

// Stage is a named checkpoint in the processing pipeline. Stages only ever
// advance; a message resumes from its last persisted stage after a reclaim.
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageAudioStored Stage = "AUDIO_STORED"
	StageTranscribed Stage = "TRANSCRIBED"
	StageAnalyzed    Stage = "ANALYZED"
	StageDocCreated  Stage = "DOC_CREATED"
	StageNotifQueued Stage = "NOTIF_QUEUED"
	StageCompleted   Stage = "COMPLETED"
)

// StageOrder lists all stages in pipeline execution order.
var StageOrder = []Stage{
	StageReceived,
	StageAudioStored,
	StageTranscribed,
	StageAnalyzed,
	StageDocCreated,
	StageNotifQueued,
	StageCompleted,
}

// Index returns the position of the stage in StageOrder, or -1 for an
// unknown stage. An empty stage sorts as RECEIVED.
func (s Stage) Index() int {
	if s == "" {
		return 0
	}
	for i, stage := range StageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Before reports whether s is strictly earlier in the pipeline than other.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// Outcome is the requested disposition when a message is released mid-run.
type Outcome string

const (
	// OutcomeRetry asks for the message to become claimable again after a
	// backoff delay. Escalates to FAILED once attempts are exhausted.
	OutcomeRetry Outcome = "RETRY"

	// OutcomeFailed marks the message terminally failed; it is never
	// reclaimed.
	OutcomeFailed Outcome = "FAILED"
)

// Message is one inbound voice message and its processing state. It is the
// unit of work drained from the queue table; every mutation after the claim
// is scoped to the claiming worker's lease.
type Message struct {
	MessageSid  string `gorm:"primaryKey;size:64"`
	FromNumber  string `gorm:"size:32"`
	AgencyID    string `gorm:"index;size:64"`
	ProfileName string `gorm:"size:255"`
	Body        string `gorm:"type:text"`

	// Stage payload checkpoints, written incrementally as stages complete.
	MediaURL       string `gorm:"size:1024"`
	MediaBlobID    string `gorm:"size:512"`
	TranscriptText string `gorm:"type:text"`
	AnalysisJSON   []byte `gorm:"type:bytes"`
	PendingDocID   string `gorm:"size:64"`

	JobStatus    JobStatus `gorm:"index:idx_claimable,priority:1;size:20;default:'READY'"`
	CurrentStage Stage     `gorm:"size:20"`
	FailedStage  string    `gorm:"size:20"`
	FailedReason string    `gorm:"type:text"`
	AttemptCount int       `gorm:"default:0"`

	LockedBy    string     `gorm:"size:255"`
	LockedUntil *time.Time `gorm:"index"`
	NextRunAt   *time.Time `gorm:"index:idx_claimable,priority:2"`

	ReceivedAt  time.Time `gorm:"index:idx_claimable,priority:3;autoCreateTime"`
	ProcessedAt *time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName implements the GORM table naming convention.
func (Message) TableName() string { return "voice_messages" }

// ResumeStage returns the checkpoint to resume from, treating an unset stage
// as RECEIVED.
func (m *Message) ResumeStage() Stage {
	if m.CurrentStage == "" {
		return StageReceived
	}
	return m.CurrentStage
}

// HealthStatus is the self-reported health of a worker.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// Heartbeat is one worker's liveness record, upserted by worker identity.
type Heartbeat struct {
	WorkerID           string       `gorm:"primaryKey;size:255"`
	Kind               string       `gorm:"size:32;default:'external'"`
	LastSeenAt         time.Time    `gorm:"not null"`
	StartedAt          time.Time    `gorm:"not null"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime"`
	JobsInFlight       int          `gorm:"default:0"`
	JobsProcessedTotal int64        `gorm:"default:0"`
	QueueReadyNow      int64        `gorm:"default:0"`
	CurrentStatus      HealthStatus `gorm:"size:16"`
	LastError          string       `gorm:"type:text"`
	Version            string       `gorm:"size:64"`
	Hostname           string       `gorm:"size:255"`
}

// TableName implements the GORM table naming convention.
func (Heartbeat) TableName() string { return "worker_heartbeats" }

// PendingDoc is the care documentation record created by the DOC_CREATED
// stage. The (agency_id, message_sid) pair is unique so replays of the stage
// reuse the existing row instead of inserting a duplicate.
type PendingDoc struct {
	ID                  string `gorm:"primaryKey;size:64"`
	PhoneNumber         string `gorm:"size:32"`
	PatientID           string `gorm:"size:64"`
	PatientName         string `gorm:"size:255"`
	ServiceDate         string `gorm:"size:32"`
	RawContent          string `gorm:"type:text"`
	TranslatedContentDE string `gorm:"type:text"`
	TranslatedContentEN string `gorm:"type:text"`
	OriginalLanguage    string `gorm:"size:16"`
	KHCodes             []byte `gorm:"type:bytes"`
	StructuredData      []byte `gorm:"type:bytes"`
	Alerts              []byte `gorm:"type:bytes"`
	Status              string `gorm:"size:32;default:'pending'"`
	AgencyID            string `gorm:"uniqueIndex:idx_agency_message,priority:1;size:64"`
	MessageSid          string `gorm:"uniqueIndex:idx_agency_message,priority:2;size:64"`
	CreatedAt           time.Time
}

// TableName implements the GORM table naming convention.
func (PendingDoc) TableName() string { return "pending_care_docs" }
