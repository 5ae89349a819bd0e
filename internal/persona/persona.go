// Package persona holds the role-play scenarios a session can be opened with.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one role-play setup. Instruction is sent verbatim as the
// model's system instruction.
type Scenario struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Instruction string `yaml:"instruction" json:"instruction"`
	Voice       string `yaml:"voice,omitempty" json:"voice,omitempty"`
}

// Catalog is an ordered set of scenarios.
type Catalog struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// ErrNotFound is returned by Lookup for an unknown scenario id.
var ErrNotFound = errors.New("scenario not found")

// Builtin returns the default catalog.
func Builtin() *Catalog {
	return &Catalog{Scenarios: []Scenario{
		{
			ID:          "interview",
			Title:       "Job Interview",
			Instruction: "You are a hiring manager for a tech company. Ask me behavioral and technical questions. Be professional but slightly demanding. After 5 turns, wrap up.",
		},
		{
			ID:          "raise",
			Title:       "Asking for a Raise",
			Instruction: "You are my skeptical boss. I am asking for a raise. Challenge my reasons politely but firmly. Make me justify my value.",
		},
		{
			ID:          "small-talk",
			Title:       "Small Talk at a Party",
			Instruction: "You are a friendly stranger at a networking event. Initiate small talk, ask about my hobbies, and try to keep the conversation flowing naturally.",
		},
		{
			ID:          "sales-pitch",
			Title:       "Sales Pitch",
			Instruction: "You are a potential client interested in buying software. You have budget concerns and need convincing on ROI. I am the salesperson.",
		},
		{
			ID:          "public-speaking",
			Title:       "Public Speaking Prep",
			Instruction: "You are a public speaking coach. I will deliver a short speech. Listen to me and give feedback on my tone, pace, and clarity. Interject only if I pause for too long.",
		},
	}}
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}
	return &c, nil
}

// Validate checks that ids are present and unique and every scenario has
// an instruction.
func (c *Catalog) Validate() error {
	if len(c.Scenarios) == 0 {
		return errors.New("no scenarios defined")
	}
	seen := make(map[string]bool, len(c.Scenarios))
	for i, s := range c.Scenarios {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("scenario %d: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("scenario %q: duplicate id", id)
		}
		seen[id] = true
		if strings.TrimSpace(s.Instruction) == "" {
			return fmt.Errorf("scenario %q: instruction is required", id)
		}
	}
	return nil
}

// Lookup returns the scenario with the given id.
func (c *Catalog) Lookup(id string) (Scenario, error) {
	for _, s := range c.Scenarios {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Resolve picks the instruction for a session: a scenario id wins, free
// persona text is used otherwise.
func (c *Catalog) Resolve(scenarioID, persona string) (Scenario, error) {
	if scenarioID != "" {
		return c.Lookup(scenarioID)
	}
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return Scenario{}, errors.New("either a scenario id or a persona is required")
	}
	return Scenario{ID: "custom", Title: "Custom", Instruction: persona}, nil
}
