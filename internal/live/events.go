package live

// Event is one inbound message from the model stream.
type Event interface {
	isEvent()
}

// Side identifies who produced a piece of transcription.
type Side string

const (
	SideUser Side = "user"
	SideAI   Side = "ai"
)

// AudioEvent carries one base64 encoded PCM16 fragment of model speech.
type AudioEvent struct {
	Data     string
	MIMEType string
}

// TranscriptEvent is a partial transcription for one side.
type TranscriptEvent struct {
	Side Side
	Text string
}

// TurnCompleteEvent marks the end of a conversational turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals that the user barged in over the model.
type InterruptedEvent struct{}

// ClosedEvent is emitted when the remote side closes the stream.
type ClosedEvent struct {
	Code   int
	Reason string
	Clean  bool
}

// ErrorEvent reports a transport failure. The stream is unusable afterwards.
type ErrorEvent struct {
	Err error
}

func (AudioEvent) isEvent()        {}
func (TranscriptEvent) isEvent()   {}
func (TurnCompleteEvent) isEvent() {}
func (InterruptedEvent) isEvent()  {}
func (ClosedEvent) isEvent()       {}
func (ErrorEvent) isEvent()        {}
