package live

import "strings"

// Modality values accepted in GenerationConfig.ResponseModalities.
const (
	ModalityText  = "TEXT"
	ModalityAudio = "AUDIO"
)

// Blob is inline media carried in a part. Data is base64 encoded.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one element of a Content: either text or inline media.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part { return Part{Text: text} }

// InlinePart returns an inline media part.
func InlinePart(mimeType, data string) Part {
	return Part{InlineData: &Blob{MimeType: mimeType, Data: data}}
}

// Content is an ordered list of parts attributed to a role.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ClientContent is the clientContent client message.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// RealtimeInput is the realtimeInput client message.
type RealtimeInput struct {
	Audio *Blob  `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

// GenerationConfig selects output modalities.
type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

// Setup is the first client message of a session.
type Setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         GenerationConfig `json:"generationConfig"`
	SystemInstruction        *Content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type clientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
}

// ServerMessage is one message streamed by the upstream service. Exactly
// the fields below are interpreted; everything else is ignored.
type ServerMessage struct {
	// Text is a pre-aggregated text field some gateways add at top level.
	Text          string         `json:"text,omitempty"`
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// ServerContent carries model output for the current turn.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription is a speech transcript fragment.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// UsageMetadata reports token counts.
type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// GoAway announces that the server will close the session soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ModelText returns the text carried by m. A top-level Text wins;
// otherwise the text parts of the model turn are joined with single spaces.
func (m ServerMessage) ModelText() (string, bool) {
	if m.Text != "" {
		return m.Text, true
	}
	if m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return "", false
	}
	var texts []string
	for _, p := range m.ServerContent.ModelTurn.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, " "), true
}

// TurnComplete reports whether m ends the model turn.
func (m ServerMessage) TurnComplete() bool {
	return m.ServerContent != nil && m.ServerContent.TurnComplete
}

// InputTranscript returns the user speech transcript carried by m, if any.
func (m ServerMessage) InputTranscript() (string, bool) {
	if m.ServerContent == nil || m.ServerContent.InputTranscription == nil {
		return "", false
	}
	return m.ServerContent.InputTranscription.Text, true
}

// OutputTranscript returns the model speech transcript carried by m, if any.
func (m ServerMessage) OutputTranscript() (string, bool) {
	if m.ServerContent == nil || m.ServerContent.OutputTranscription == nil {
		return "", false
	}
	return m.ServerContent.OutputTranscription.Text, true
}

// ModelPath ensures model is in the models/{model} form.
func ModelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}
