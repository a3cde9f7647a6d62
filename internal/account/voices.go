package account

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog lists the available voices and, per voice, the valid emotion tags.
// It is read-only after loading.
type Catalog struct {
	voices map[string][]string
}

// NewCatalog builds a catalog from a voice -> emotions map.
func NewCatalog(voices map[string][]string) *Catalog {
	c := &Catalog{voices: make(map[string][]string, len(voices))}
	for v, emotions := range voices {
		c.voices[v] = append([]string(nil), emotions...)
	}
	return c
}

// DefaultVoices is the SpeechKit v1 voice set used when no voices file exists.
var DefaultVoices = map[string][]string{
	"alena":   {"neutral", "good"},
	"filipp":  {"neutral"},
	"ermil":   {"neutral", "good"},
	"jane":    {"neutral", "good", "evil"},
	"madirus": {"neutral"},
	"omazh":   {"neutral", "evil"},
	"zahar":   {"neutral", "good"},
}

// LoadCatalog reads voices.json. The file is JSON, which the YAML parser
// accepts as well, so a voices.yaml works too.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("account: read voices: %w", err)
	}

	var voices map[string][]string
	if err := yaml.Unmarshal(data, &voices); err != nil {
		return nil, fmt.Errorf("account: parse voices: %w", err)
	}
	return NewCatalog(voices), nil
}

// Voices returns the voice names sorted alphabetically
func (c *Catalog) Voices() []string {
	names := make([]string, 0, len(c.voices))
	for v := range c.voices {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}

// Emotions returns the emotions of a voice in file order
func (c *Catalog) Emotions(voice string) []string {
	return append([]string(nil), c.voices[voice]...)
}

// HasVoice reports whether the voice exists
func (c *Catalog) HasVoice(voice string) bool {
	_, ok := c.voices[voice]
	return ok
}

// HasEmotion reports whether the emotion is valid for the voice
func (c *Catalog) HasEmotion(voice, emotion string) bool {
	for _, e := range c.voices[voice] {
		if e == emotion {
			return true
		}
	}
	return false
}
