package events

const (
	TopicConnStatus    = "conn.status"
	TopicTelemetry     = "telemetry.update"
	TopicStateChange   = "state.change"
	TopicJobEvent      = "job.event"
	TopicCommandResult = "command.result"
	TopicRawFrameIn    = "raw.frame.in"
	TopicRawFrameOut   = "raw.frame.out"
)
