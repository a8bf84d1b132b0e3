package domain

// ExecutionStatus is the lifecycle state of a tool invocation as reported
// to the agent runtime.
type ExecutionStatus string

const (
	// ExecutionSubmitted means the job was accepted by the queue service;
	// the result carries the queue receipt, not the generated media.
	ExecutionSubmitted ExecutionStatus = "submitted"
	// ExecutionCompleted means the job finished and media were extracted.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed means the invocation failed after submission.
	ExecutionFailed ExecutionStatus = "error"
)

// QueueState mirrors the generation queue's job states.
type QueueState string

const (
	QueueStateQueued     QueueState = "IN_QUEUE"
	QueueStateInProgress QueueState = "IN_PROGRESS"
	QueueStateCompleted  QueueState = "COMPLETED"
)

// MediaKind classifies a generated artifact.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaModel MediaKind = "model"
)

// MediaOutput describes one generated artifact.
type MediaOutput struct {
	Kind        MediaKind `json:"kind"`
	URL         string    `json:"url"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
}

// ExecutionResult is the normalized output of invoking a tool. Submitted
// results carry the queue receipt; completed results carry the media list.
type ExecutionResult struct {
	Status        ExecutionStatus `json:"status"`
	EndpointID    string          `json:"endpoint_id"`
	RequestID     string          `json:"request_id,omitempty"`
	QueueState    QueueState      `json:"queue_state,omitempty"`
	QueuePosition *int            `json:"queue_position,omitempty"`
	StatusURL     string          `json:"status_url,omitempty"`
	ResponseURL   string          `json:"response_url,omitempty"`
	Media         []MediaOutput   `json:"media,omitempty"`
}

// QueueEventKind discriminates queue-watch stream events.
type QueueEventKind string

const (
	QueueEventQueued     QueueEventKind = "queued"
	QueueEventInProgress QueueEventKind = "in_progress"
	QueueEventCompleted  QueueEventKind = "completed"
	QueueEventFailed     QueueEventKind = "failed"
)

// QueueEvent is one element of the execution-status stream. A completed or
// failed event is terminal: it is always the last event observed on the
// stream and the stream is closed after it.
type QueueEvent struct {
	Kind     QueueEventKind
	Position *int
	Result   *ExecutionResult
	Err      error
}

// Terminal reports whether the event ends the stream.
func (e QueueEvent) Terminal() bool {
	return e.Kind == QueueEventCompleted || e.Kind == QueueEventFailed
}
