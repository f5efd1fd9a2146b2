package catalog

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"commodity-intel/internal/model"
)

// DefaultSettings is the default_settings block of the sources file.
type DefaultSettings struct {
	IncludeGeneralSources *bool `yaml:"include_general_sources"`
	CacheDurationHours    int   `yaml:"cache_duration_hours"`
}

type sectorEntry struct {
	Sources []model.Source `yaml:"sources"`
}

type sectorsFile struct {
	DefaultSettings *DefaultSettings       `yaml:"default_settings"`
	GeneralSources  *[]model.Source        `yaml:"general_sources"`
	Sectors         map[string]sectorEntry `yaml:"sectors"`
}

// Sectors maps each sector to its trusted news sources.
type Sectors struct {
	settings DefaultSettings
	general  []model.Source
	sectors  map[string][]model.Source
}

// LoadSectors reads the sector sources file at path.
func LoadSectors(path string) (*Sectors, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read sector sources %s", path)
	}
	return ParseSectors(raw)
}

// ParseSectors decodes a sector sources document. The default_settings,
// general_sources and sectors keys are required.
func ParseSectors(raw []byte) (*Sectors, error) {
	var doc sectorsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "decode sector sources")
	}
	switch {
	case doc.DefaultSettings == nil:
		return nil, eris.New("sector sources: missing required key 'default_settings'")
	case doc.GeneralSources == nil:
		return nil, eris.New("sector sources: missing required key 'general_sources'")
	case doc.Sectors == nil:
		return nil, eris.New("sector sources: missing required key 'sectors'")
	}

	s := &Sectors{
		settings: *doc.DefaultSettings,
		general:  validSources(*doc.GeneralSources),
		sectors:  make(map[string][]model.Source, len(doc.Sectors)),
	}
	for name, entry := range doc.Sectors {
		s.sectors[name] = validSources(entry.Sources)
	}
	return s, nil
}

// IncludeGeneral reports whether general sources are appended to every sector. Defaults to true.
func (s *Sectors) IncludeGeneral() bool {
	if s == nil || s.settings.IncludeGeneralSources == nil {
		return true
	}
	return *s.settings.IncludeGeneralSources
}

// CacheDurationHours falls back to 24 when unset.
func (s *Sectors) CacheDurationHours() int {
	if s == nil || s.settings.CacheDurationHours <= 0 {
		return 24
	}
	return s.settings.CacheDurationHours
}

// SourcesFor returns the sector's own sources followed by the general ones.
// Unknown sectors get only the general sources.
func (s *Sectors) SourcesFor(sector string) []model.Source {
	if s == nil {
		return nil
	}
	own := s.sectors[sector]
	out := make([]model.Source, 0, len(own)+len(s.general))
	out = append(out, own...)
	if s.IncludeGeneral() {
		out = append(out, s.general...)
	}
	return out
}

// Sectors lists configured sector names in sorted order.
func (s *Sectors) Sectors() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.sectors))
	for name := range s.sectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validSources(in []model.Source) []model.Source {
	out := make([]model.Source, 0, len(in))
	for _, src := range in {
		if src.Name == "" || src.URL == "" {
			continue
		}
		out = append(out, src)
	}
	return out
}
