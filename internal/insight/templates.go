package insight

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"summoner-story/internal/config"
	"summoner-story/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// PromptData is what a prompt template renders against.
type PromptData struct {
	Player         string
	Region         string
	Archetype      string
	Achievements   []string
	Stats          domain.StatisticsPayload
	MostPlayed     *domain.ChampionStat
	HighestWinRate *domain.ChampionStat
	BestKDA        *domain.ChampionStat
}

func NewPromptData(profile domain.PlayerProfile, p domain.StatisticsPayload) PromptData {
	data := PromptData{
		Player:       profile.GameName,
		Region:       strings.ToUpper(profile.Region),
		Archetype:    Archetype(p),
		Achievements: Achievements(p),
		Stats:        p,
	}
	if c, ok := p.Champion(p.Featured.MostPlayed); ok {
		data.MostPlayed = &c
	}
	if c, ok := p.Champion(p.Featured.HighestWinRate); ok {
		data.HighestWinRate = &c
	}
	if c, ok := p.Champion(p.Featured.BestKDA); ok {
		data.BestKDA = &c
	}
	return data
}

type Template struct {
	Name            string
	Description     string
	MaxOutputTokens int
	Temperature     float64

	tmpl *template.Template
}

func (t *Template) Render(data PromptData) (string, error) {
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", t.Name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

type Templates struct {
	defaultName string
	byName      map[string]*Template
}

type templateFile struct {
	Default   string `yaml:"default"`
	Templates map[string]struct {
		Description     string  `yaml:"description"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
		Temperature     float64 `yaml:"temperature"`
		Prompt          string  `yaml:"prompt"`
	} `yaml:"templates"`
}

// LoadTemplates reads templates from path, or the built-in set when path is empty.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return ParseTemplates(defaultTemplates)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt templates: %w", err)
	}
	return ParseTemplates(b)
}

func NewTemplatesFromConfig(cfg *config.Config) (*Templates, error) {
	return LoadTemplates(cfg.PromptTemplates)
}

func ParseTemplates(b []byte) (*Templates, error) {
	var raw templateFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing prompt templates: %w", err)
	}
	if len(raw.Templates) == 0 {
		return nil, fmt.Errorf("no prompt templates defined")
	}

	set := &Templates{
		defaultName: strings.TrimSpace(raw.Default),
		byName:      make(map[string]*Template, len(raw.Templates)),
	}
	for name, def := range raw.Templates {
		name = strings.TrimSpace(name)
		tmpl, err := template.New(name).Option("missingkey=error").Parse(def.Prompt)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		set.byName[name] = &Template{
			Name:            name,
			Description:     def.Description,
			MaxOutputTokens: def.MaxOutputTokens,
			Temperature:     def.Temperature,
			tmpl:            tmpl,
		}
	}

	if set.defaultName == "" {
		set.defaultName = set.Names()[0]
	}
	if _, ok := set.byName[set.defaultName]; !ok {
		return nil, fmt.Errorf("default template %q is not defined", set.defaultName)
	}
	return set, nil
}

// Lookup resolves name, with an empty name meaning the default template.
func (s *Templates) Lookup(name string) (*Template, bool) {
	if name == "" {
		name = s.defaultName
	}
	t, ok := s.byName[name]
	return t, ok
}

func (s *Templates) Default() string {
	return s.defaultName
}

func (s *Templates) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
