package deepgram

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

const defaultAPIBaseURL = "https://api.deepgram.com/v1"

// listenResponse covers the live transcription message shapes we consume.
type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

func (r listenResponse) errorMessage() string {
	for _, candidate := range []string{r.Message, r.Description} {
		if text := strings.TrimSpace(candidate); text != "" {
			return text
		}
	}
	return "deepgram returned an unknown error"
}

// event converts a results message into a transcript event. ok is false
// for messages that carry no text and do not close an utterance.
func (r listenResponse) event() (domain.TranscriptEvent, bool) {
	if strings.EqualFold(r.Type, "UtteranceEnd") {
		return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}, true
	}
	text := r.transcript()
	if text == "" && !r.SpeechFinal {
		return domain.TranscriptEvent{}, false
	}
	event := domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text, IsSpeechFinal: r.SpeechFinal}
	if r.IsFinal || r.SpeechFinal {
		event.Kind = domain.TranscriptKindFinal
	}
	return event, true
}

func buildListenURL(cfg Config, stream ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	listenURL, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if stream.Encoding == "" {
		stream.Encoding = "linear16"
	}
	if stream.SampleRate <= 0 {
		stream.SampleRate = 16000
	}
	if stream.Channels <= 0 {
		stream.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", stream.Encoding)
	query.Set("sample_rate", strconv.Itoa(stream.SampleRate))
	query.Set("channels", strconv.Itoa(stream.Channels))
	query.Set("interim_results", strconv.FormatBool(stream.InterimResults))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	if cfg.EndpointingMs > 0 {
		query.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}
	if cfg.UtteranceEndMs > 0 {
		query.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}
	for _, keyword := range cfg.Keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			query.Add("keywords", keyword)
		}
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
