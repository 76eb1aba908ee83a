package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gridpermit/internal/workflow"
)

// Config models gridpermit.yml.
type Config struct {
	Utility struct {
		ID     string `yaml:"id" json:"id"`
		Name   string `yaml:"name" json:"name"`
		Region string `yaml:"region" json:"region,omitempty"`
	} `yaml:"utility" json:"utility"`
	Checklists struct {
		Safety     map[string]ChecklistItem `yaml:"safety" json:"safety"`
		Completion map[string]ChecklistItem `yaml:"completion" json:"completion"`
		PPE        map[string]ChecklistItem `yaml:"ppe" json:"ppe"`
	} `yaml:"checklists" json:"checklists"`
	Risk struct {
		HighAt   int `yaml:"high_at" json:"high_at"`
		MediumAt int `yaml:"medium_at" json:"medium_at"`
	} `yaml:"risk" json:"risk"`
	Webhooks []Webhook `yaml:"webhooks" json:"webhooks,omitempty"`
}

type ChecklistItem struct {
	Description string `yaml:"description" json:"description"`
}

type Webhook struct {
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events" json:"events,omitempty"`
	Secret string   `yaml:"secret" json:"-"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ptw init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Checklist catalogs
// must describe every item the lifecycle enforces, so operators always see
// the wording behind a rejection.
func (c *Config) Validate() error {
	if c.Utility.ID == "" {
		return fmt.Errorf("config.utility.id is required")
	}
	if len(c.Checklists.Safety) > 0 {
		for _, item := range workflow.SafetyItems {
			if _, ok := c.Checklists.Safety[item]; !ok {
				return fmt.Errorf("config.checklists.safety missing required item %s", item)
			}
		}
	}
	if len(c.Checklists.Completion) > 0 {
		for _, item := range workflow.CompletionItems {
			if _, ok := c.Checklists.Completion[item]; !ok {
				return fmt.Errorf("config.checklists.completion missing required item %s", item)
			}
		}
	}
	if len(c.Checklists.PPE) > 0 {
		for _, item := range workflow.PPEItems {
			if _, ok := c.Checklists.PPE[item]; !ok {
				return fmt.Errorf("config.checklists.ppe missing required item %s", item)
			}
		}
	}
	if c.Risk.HighAt != 0 || c.Risk.MediumAt != 0 {
		if c.Risk.MediumAt <= 0 || c.Risk.HighAt <= c.Risk.MediumAt {
			return fmt.Errorf("config.risk thresholds must satisfy 0 < medium_at < high_at")
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, ev := range wh.Events {
			if ev == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event name", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gridpermit.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(utilityID string) string {
	return fmt.Sprintf(defaultTemplate, utilityID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a utility.
func Default(utilityID string) *Config {
	var cfg Config
	cfg.Utility.ID = utilityID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, utilityID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `utility:
  id: %s
  name: "Distribution Company"
  region: ""

checklists:
  safety:
    line_isolated:
      description: "Line isolated at all feeding points"
    earthing_applied:
      description: "Working earths applied both sides of work site"
    danger_boards_placed:
      description: "Danger boards placed at isolation points"
    barricading_done:
      description: "Work site barricaded"
    adjacent_lines_identified:
      description: "Adjacent live lines identified and flagged"
    spt_briefing_held:
      description: "Safe-practices talk held with the full crew"

  completion:
    earths_removed:
      description: "All working earths removed"
    tools_accounted:
      description: "All tools and materials accounted for"
    site_cleared:
      description: "Work site cleared and fit for re-energization"
    crew_withdrawn:
      description: "All crew withdrawn from the line"
    supervisor_informed:
      description: "Supervisor informed of completion"

  ppe:
    helmet:
      description: "Safety helmet worn"
    gloves:
      description: "Insulating gloves worn"
    safety_belt:
      description: "Safety belt worn for pole/tower work"
    discharge_rod:
      description: "Discharge rod available at site"
    earth_chain:
      description: "Earthing chain available at site"

risk:
  high_at: 15
  medium_at: 8

webhooks: []
`
