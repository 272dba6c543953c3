package kafka

// Topic names before prefixing.
const (
	TopicSubmitCommand       = "commands.submit"
	TopicValidationResponse  = "validation.response"
	TopicProjectionSuccess   = "projection.success"
	TopicProjectionFailure   = "projection.failure"
	TopicCommandSuccess      = "commands.success"
	TopicCommandFailure      = "commands.failure"
	TopicValidationTriggered = "validation.triggered"
	// TopicDomainEvents carries events written by command sagas.
	TopicDomainEvents = "events"
	// TopicStreamEvents carries resolved per-stream events written in batches.
	TopicStreamEvents = "streams"
)

// Header keys set on stream messages.
const (
	HeaderBatchID   = "batch_id"
	HeaderStream    = "stream"
	HeaderEventType = "event_type"
)
