// Package persona holds the bot's voice: system prompts, emote replies,
// review lead-ins and user-facing notices.
//
// A default persona is embedded.  An operator file (YAML) is validated
// against an embedded JSON Schema and overlaid on the default, so it only
// needs the fields it changes.
package persona

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.json
var schemaJSON string

// Notice keys.
const (
	NoticeBusy            = "busy"
	NoticeApology         = "apology"
	NoticeHelp            = "help"
	NoticeResetSelf       = "reset_self"
	NoticeResetRoom       = "reset_room"
	NoticeDenied          = "denied"
	NoticeUsage           = "usage"
	NoticeJoined          = "joined"
	NoticeParted          = "parted"
	NoticeFailed          = "failed"
	NoticeIgnoreAdded     = "ignore_added"
	NoticeIgnoreRemoved   = "ignore_removed"
	NoticeIgnoreList      = "ignore_list"
	NoticeIgnoreEmpty     = "ignore_empty"
	NoticeTimezoneSaved   = "timezone_saved"
	NoticeTimeFormatSaved = "time_format_saved"
	NoticeTimezoneUnknown = "timezone_unknown"
	NoticeTimeReply       = "time_reply"
	NoticeTimeHint        = "time_hint"
)

// DefaultEmote is the emotes key used for gestures without their own list.
const DefaultEmote = "default"

// Persona is the loaded voice.
type Persona struct {
	Name             string              `yaml:"name"`
	SystemPrompt     string              `yaml:"system_prompt"`
	SearchPrompt     string              `yaml:"search_prompt"`
	ReviewPrompt     string              `yaml:"review_prompt"`
	BackgroundHeader string              `yaml:"background_header"`
	LeadIns          []string            `yaml:"lead_ins"`
	Emotes           map[string][]string `yaml:"emotes"`
	Notices          map[string]string   `yaml:"notices"`
}

var schema = jsonschema.MustCompileString("persona.json", schemaJSON)

// Default returns the embedded persona.
func Default() *Persona {
	p, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads the persona at path and overlays it on the default.  An empty
// path returns the default.
func Load(path string) (*Persona, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("persona: %s: %w", path, err)
	}
	slog.Info("persona loaded", "path", path, "name", p.Name)
	return p, nil
}

// Parse validates data and overlays it on the default persona.
func Parse(data []byte) (*Persona, error) {
	overlay, err := parse(data)
	if err != nil {
		return nil, err
	}
	p := Default()
	p.merge(overlay)
	return p, nil
}

func parse(data []byte) (*Persona, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return &Persona{}, nil
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode persona: %w", err)
	}
	return &p, nil
}

// validate checks a decoded YAML document against the schema.  The document
// is round-tripped through JSON so the validator sees JSON types.
func validate(doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("persona must be a mapping with string keys: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("re-decode persona: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid persona: %w", err)
	}
	return nil
}

func (p *Persona) merge(o *Persona) {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.SystemPrompt != "" {
		p.SystemPrompt = o.SystemPrompt
	}
	if o.SearchPrompt != "" {
		p.SearchPrompt = o.SearchPrompt
	}
	if o.ReviewPrompt != "" {
		p.ReviewPrompt = o.ReviewPrompt
	}
	if o.BackgroundHeader != "" {
		p.BackgroundHeader = o.BackgroundHeader
	}
	if len(o.LeadIns) > 0 {
		p.LeadIns = o.LeadIns
	}
	for verb, phrases := range o.Emotes {
		p.Emotes[verb] = phrases
	}
	for key, text := range o.Notices {
		p.Notices[key] = text
	}
}

// Notice renders the notice key, replacing "{name}" placeholders from vars.
func (p *Persona) Notice(key string, vars map[string]string) string {
	text := p.Notices[key]
	if text == "" {
		return ""
	}
	return Render(text, vars)
}

// EmotePhrases returns the phrases for verb, or the default list.
func (p *Persona) EmotePhrases(verb string) []string {
	if phrases := p.Emotes[verb]; len(phrases) > 0 {
		return phrases
	}
	return p.Emotes[DefaultEmote]
}

// Render replaces each "{key}" in text with vars[key].
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
