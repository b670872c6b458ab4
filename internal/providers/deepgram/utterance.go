package deepgram

import (
	"strings"

	"pathvoice/internal/domain"
)

// utterance accumulates transcript events until the speaker pauses.
type utterance struct {
	finals    []string
	lastHeard string
}

func (u *utterance) add(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	u.lastHeard = text
	if event.Kind == domain.TranscriptKindFinal {
		u.finals = append(u.finals, text)
	}
}

// text joins the final segments. The latest partial wins when nothing was
// finalized yet or it extends past the finals.
func (u *utterance) text() string {
	joined := strings.TrimSpace(strings.Join(u.finals, " "))
	switch {
	case joined == "":
		return u.lastHeard
	case u.lastHeard == "", strings.HasSuffix(joined, u.lastHeard):
		return joined
	case strings.HasPrefix(u.lastHeard, joined):
		return u.lastHeard
	case len(u.lastHeard) > len(joined):
		return strings.TrimSpace(joined + " " + u.lastHeard)
	default:
		return joined
	}
}

func (u *utterance) reset() {
	u.finals = nil
	u.lastHeard = ""
}
