package assistant

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trendrbot/trendrbot/internal/query"
	"github.com/trendrbot/trendrbot/internal/storage"
)

const (
	LabelUSTrends            = "US Google Trends"
	LabelInternationalTrends = "International Google Trends"

	usTopTermsTable            = "bigquery-public-data.google_trends.top_terms"
	internationalTopTermsTable = "bigquery-public-data.google_trends.international_top_terms"
)

// Source is one routable data source: a label the classifier can answer
// with and the SQL template it selects.
type Source struct {
	Label    string `yaml:"label" json:"label"`
	Table    string `yaml:"table" json:"table"`
	Object   string `yaml:"object,omitempty" json:"object,omitempty"`
	Template string `yaml:"template" json:"-"`
}

// File is the snapshot the local engine registers for this source.
func (s Source) File() query.TableFile {
	return query.TableFile{TableName: s.Table, ObjectPath: s.Object}
}

// Catalog is built once at startup and treated as read-only afterwards.
type Catalog struct {
	Sources       []Source `yaml:"sources"`
	Countries     []string `yaml:"countries"`
	CountrySource string   `yaml:"country_source"`
}

func DefaultCatalog() Catalog {
	catalog := Catalog{
		Sources: []Source{
			{
				Label:    LabelUSTrends,
				Table:    usTopTermsTable,
				Template: topTermsTemplate(usTopTermsTable),
			},
			{
				Label:    LabelInternationalTrends,
				Table:    internationalTopTermsTable,
				Template: topTermsTemplate(internationalTopTermsTable),
			},
		},
		Countries:     append([]string(nil), internationalCountries...),
		CountrySource: LabelInternationalTrends,
	}
	if err := catalog.normalize(); err != nil {
		panic(err)
	}
	return catalog
}

func topTermsTemplate(table string) string {
	return "WITH abc AS (SELECT term, rank, week FROM `" + table + "` GROUP BY term, rank, week ORDER BY week DESC, rank ASC) " +
		"SELECT DISTINCT term, rank, week FROM abc ORDER BY week DESC, rank ASC LIMIT 50000"
}

// Countries with their own slice of the international top terms table.
var internationalCountries = []string{
	"Argentina", "Australia", "Austria", "Belgium", "Brazil", "Canada", "Chile",
	"Colombia", "Czech Republic", "Denmark", "Egypt", "Finland", "France", "Germany",
	"Hungary", "India", "Indonesia", "Israel", "Italy", "Japan", "Malaysia", "Mexico",
	"Netherlands", "New Zealand", "Nigeria", "Norway", "Philippines", "Poland",
	"Portugal", "Romania", "Saudi Arabia", "South Africa", "South Korea", "Sweden",
	"Switzerland", "Taiwan", "Thailand", "Turkey", "Ukraine", "United Kingdom", "Vietnam",
}

// LoadCatalogFile reads a YAML catalog. Sources without an explicit object
// path get the snapshot path derived from their table.
func LoadCatalogFile(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog file: %w", err)
	}
	if err := catalog.normalize(); err != nil {
		return Catalog{}, err
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

func (c *Catalog) normalize() error {
	c.CountrySource = strings.TrimSpace(c.CountrySource)
	if c.CountrySource == "" && len(c.Countries) > 0 {
		c.CountrySource = LabelInternationalTrends
	}
	for i := range c.Sources {
		source := &c.Sources[i]
		source.Label = strings.TrimSpace(source.Label)
		source.Table = strings.Trim(strings.TrimSpace(source.Table), "`")
		source.Template = strings.TrimSpace(source.Template)
		source.Object = strings.TrimSpace(source.Object)
		if source.Object == "" && source.Table != "" {
			object, err := storage.SnapshotPath(source.Table)
			if err != nil {
				return fmt.Errorf("source %q: %w", source.Label, err)
			}
			source.Object = object
		}
	}
	for i := range c.Countries {
		c.Countries[i] = strings.TrimSpace(c.Countries[i])
	}
	return nil
}

func (c Catalog) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("catalog has no sources")
	}
	labels := make(map[string]struct{}, len(c.Sources))
	for _, source := range c.Sources {
		if source.Label == "" {
			return fmt.Errorf("catalog source label is required")
		}
		if _, exists := labels[source.Label]; exists {
			return fmt.Errorf("duplicate catalog source %q", source.Label)
		}
		labels[source.Label] = struct{}{}
		if source.Template == "" {
			return fmt.Errorf("catalog source %q has no template", source.Label)
		}
		if source.Table == "" {
			return fmt.Errorf("catalog source %q has no table", source.Label)
		}
	}

	if len(c.Countries) == 0 {
		return nil
	}
	if _, ok := labels[c.CountrySource]; !ok {
		return fmt.Errorf("country source %q is not a catalog source", c.CountrySource)
	}
	countries := make(map[string]struct{}, len(c.Countries))
	for _, country := range c.Countries {
		if country == "" {
			return fmt.Errorf("catalog country name is required")
		}
		if _, exists := countries[country]; exists {
			return fmt.Errorf("duplicate catalog country %q", country)
		}
		if _, clash := labels[country]; clash {
			return fmt.Errorf("country %q collides with a source label", country)
		}
		countries[country] = struct{}{}
	}
	return nil
}

func (c Catalog) Source(label string) (Source, bool) {
	for _, source := range c.Sources {
		if source.Label == label {
			return source, true
		}
	}
	return Source{}, false
}

func (c Catalog) IsCountry(name string) bool {
	for _, country := range c.Countries {
		if country == name {
			return true
		}
	}
	return false
}

func (c Catalog) Labels() []string {
	labels := make([]string, 0, len(c.Sources))
	for _, source := range c.Sources {
		labels = append(labels, source.Label)
	}
	return labels
}
