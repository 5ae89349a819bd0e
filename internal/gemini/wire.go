package gemini

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/lukasbauer/voicecoach/internal/live"
)

// clientMessage is one outbound BidiGenerateContent message. Exactly one
// field is set.
type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

// serverMessage is one inbound message.
type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func encodeSetup(model string, setup live.Setup) ([]byte, error) {
	msg := clientMessage{
		Setup: &setupMessage{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if setup.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice}},
		}
	}
	if setup.Persona != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: setup.Persona}}}
	}
	return sonic.Marshal(msg)
}

func encodeAudio(data, mimeType string) ([]byte, error) {
	return sonic.Marshal(clientMessage{
		RealtimeInput: &realtimeInput{Audio: &blob{MimeType: mimeType, Data: data}},
	})
}

// decoded is the result of parsing one server message.
type decoded struct {
	setupComplete bool
	goAway        *goAway
	events        []live.Event
}

// decodeServerMessage parses msg into stream events. Within one message,
// transcription comes first, then turn completion, then interruption,
// then audio.
func decodeServerMessage(msg []byte) (decoded, error) {
	var resp serverMessage
	if err := sonic.Unmarshal(msg, &resp); err != nil {
		return decoded{}, fmt.Errorf("failed to parse server message: %w", err)
	}

	out := decoded{
		setupComplete: resp.SetupComplete != nil,
		goAway:        resp.GoAway,
	}

	sc := resp.ServerContent
	if sc == nil {
		return out, nil
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out.events = append(out.events, live.TranscriptEvent{Side: live.SideUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out.events = append(out.events, live.TranscriptEvent{Side: live.SideAI, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out.events = append(out.events, live.TurnCompleteEvent{})
	}
	if sc.Interrupted {
		out.events = append(out.events, live.InterruptedEvent{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			if !strings.HasPrefix(p.InlineData.MimeType, "audio/") {
				continue
			}
			out.events = append(out.events, live.AudioEvent{
				Data:     p.InlineData.Data,
				MIMEType: p.InlineData.MimeType,
			})
		}
	}
	return out, nil
}
