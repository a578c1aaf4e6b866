package greeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"
)

// Kind is the situation the caller is being greeted for.
type Kind string

const (
	KindWelcome    Kind = "welcome"
	KindQueued     Kind = "queued"
	KindOutOfHours Kind = "out_of_hours"
	KindAgentsBusy Kind = "agents_busy"
	KindError      Kind = "error"
)

var ErrNotApplicable = errors.New("greeting: strategy not applicable")

// Personalization carries optional caller context.
type Personalization struct {
	CallerName    string
	Position      int
	EstimatedWait time.Duration
	ClosedMessage string
}

// Audio is a playable handle: text to speak, a clip to play, or a pause.
type Audio struct {
	Say   string `json:"say,omitempty"`
	Play  string `json:"play,omitempty"`
	Pause int    `json:"pause,omitempty"`

	// Strategy names the strategy that produced the audio; "emergency" when
	// every strategy failed.
	Strategy string `json:"strategy"`
}

func (a Audio) Empty() bool { return a.Say == "" && a.Play == "" && a.Pause == 0 }

// Strategy produces audio for a kind. Returning an error moves the chain on.
type Strategy interface {
	Name() string
	Generate(ctx context.Context, kind Kind, p Personalization) (Audio, error)
}

// Chain tries strategies in order; the first success wins. When all fail it
// returns a one-second pause so the caller still hears something before the
// call is hung up.
type Chain struct {
	strategies []Strategy
	log        *slog.Logger
}

func NewChain(log *slog.Logger, strategies ...Strategy) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{strategies: strategies, log: log}
}

// Emergency is the last-resort audio.
var Emergency = Audio{Pause: 1, Strategy: "emergency"}

func (c *Chain) Generate(ctx context.Context, kind Kind, p Personalization) Audio {
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			break
		}
		a, err := safeGenerate(ctx, s, kind, p)
		if err == nil && !a.Empty() {
			a.Strategy = s.Name()
			return a
		}
		if err != nil && !errors.Is(err, ErrNotApplicable) {
			c.log.Warn("greeting strategy failed", slog.String("strategy", s.Name()), slog.String("kind", string(kind)), slog.Any("err", err))
		}
	}
	return Emergency
}

func safeGenerate(ctx context.Context, s Strategy, kind Kind, p Personalization) (a Audio, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("greeting strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Generate(ctx, kind, p)
}

// Templates renders text/template greetings. With Personal set it only
// applies when a caller name is known.
type Templates struct {
	name      string
	personal  bool
	templates map[Kind]*template.Template
}

var personalText = map[Kind]string{
	KindWelcome: `Hello {{.CallerName}}, thank you for calling about your claim. Connecting you to an agent now.`,
	KindQueued:  `Thanks for holding, {{.CallerName}}. You are number {{.Position}} in line{{if .WaitMinutes}}, with an estimated wait of about {{.WaitMinutes}} minutes{{end}}.`,
}

var genericText = map[Kind]string{
	KindWelcome:    `Thank you for calling. Connecting you to an agent now.`,
	KindQueued:     `All of our agents are helping other callers. You are number {{.Position}} in line{{if .WaitMinutes}}, with an estimated wait of about {{.WaitMinutes}} minutes{{end}}. Please stay on the line.`,
	KindOutOfHours: `{{if .ClosedMessage}}{{.ClosedMessage}}{{else}}Our office is currently closed.{{end}} We have recorded your call and will call you back during business hours.`,
	KindAgentsBusy: `All of our agents are busy right now. We have recorded your call and will call you back shortly.`,
	KindError:      `We are sorry, we are unable to take your call right now. We will call you back shortly.`,
}

// NewPersonalTemplates greets callers by name.
func NewPersonalTemplates() *Templates {
	return mustTemplates("personalized", true, personalText)
}

// NewGenericTemplates covers every kind without caller context.
func NewGenericTemplates() *Templates {
	return mustTemplates("generic", false, genericText)
}

func mustTemplates(name string, personal bool, text map[Kind]string) *Templates {
	t := &Templates{name: name, personal: personal, templates: map[Kind]*template.Template{}}
	for k, v := range text {
		t.templates[k] = template.Must(template.New(string(k)).Option("missingkey=error").Parse(v))
	}
	return t
}

func (t *Templates) Name() string { return t.name }

func (t *Templates) Generate(ctx context.Context, kind Kind, p Personalization) (Audio, error) {
	if t.personal && strings.TrimSpace(p.CallerName) == "" {
		return Audio{}, ErrNotApplicable
	}
	tmpl, ok := t.templates[kind]
	if !ok {
		return Audio{}, ErrNotApplicable
	}
	data := struct {
		Personalization
		WaitMinutes int
	}{Personalization: p}
	if p.EstimatedWait > 0 {
		data.WaitMinutes = int((p.EstimatedWait + time.Minute - 1) / time.Minute)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return Audio{}, fmt.Errorf("render %s greeting: %w", kind, err)
	}
	return Audio{Say: b.String()}, nil
}

// Clips plays pre-recorded audio files, one per kind.
type Clips struct {
	BaseURL string
	Files   map[Kind]string
}

func (c Clips) Name() string { return "clips" }

func (c Clips) Generate(ctx context.Context, kind Kind, p Personalization) (Audio, error) {
	f, ok := c.Files[kind]
	if !ok || c.BaseURL == "" {
		return Audio{}, ErrNotApplicable
	}
	return Audio{Play: strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(f, "/")}, nil
}

// DefaultClips lists the bundled recordings.
var DefaultClips = map[Kind]string{
	KindWelcome:    "welcome.mp3",
	KindQueued:     "hold.mp3",
	KindOutOfHours: "closed.mp3",
	KindAgentsBusy: "busy.mp3",
	KindError:      "sorry.mp3",
}
