package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Contractor is the structured record behind a Document. Fields outside the
// fixed schema are kept in Extra.
type Contractor struct {
	Name               string
	Address            string
	Phone              string
	AboutUs            string
	YearsInBusiness    string
	NumberOfEmployees  string
	StateLicenseNumber string
	Certifications     []string
	Extra              map[string]any
}

var contractorKeys = map[string]bool{
	"name": true, "address": true, "phone": true, "about_us": true,
	"years_in_business": true, "number_of_employees": true,
	"state_license_number": true, "certifications": true,
}

// Years parses YearsInBusiness as a number.
func (c Contractor) Years() (float64, bool) {
	s := strings.TrimSpace(c.YearsInBusiness)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Map flattens the contractor into the snake_case form used on the wire.
func (c Contractor) Map() map[string]any {
	m := make(map[string]any, len(c.Extra)+8)
	for k, v := range c.Extra {
		m[k] = v
	}
	m["name"] = c.Name
	m["address"] = c.Address
	m["phone"] = c.Phone
	setIf(m, "about_us", c.AboutUs)
	setIf(m, "years_in_business", c.YearsInBusiness)
	setIf(m, "number_of_employees", c.NumberOfEmployees)
	setIf(m, "state_license_number", c.StateLicenseNumber)
	if len(c.Certifications) > 0 {
		m["certifications"] = c.Certifications
	}
	return m
}

func setIf(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func (c Contractor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

func (c *Contractor) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*c = contractorFromMap(m)
	return nil
}

func (c *Contractor) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return err
	}
	*c = contractorFromMap(m)
	return nil
}

func contractorFromMap(m map[string]any) Contractor {
	c := Contractor{
		Name:               scalarString(m["name"]),
		Address:            scalarString(m["address"]),
		Phone:              scalarString(m["phone"]),
		AboutUs:            scalarString(m["about_us"]),
		YearsInBusiness:    scalarString(m["years_in_business"]),
		NumberOfEmployees:  scalarString(m["number_of_employees"]),
		StateLicenseNumber: scalarString(m["state_license_number"]),
	}
	if certs, ok := m["certifications"].([]any); ok {
		for _, v := range certs {
			if s := scalarString(v); s != "" {
				c.Certifications = append(c.Certifications, s)
			}
		}
	}
	for k, v := range m {
		if contractorKeys[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return c
}

// scalarString renders numbers without a trailing ".0" so "12" and 12 agree.
func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Document is one indexed record. ID is its position in the index and is the
// key feedback is recorded against.
type Document struct {
	ID         int        `json:"id"`
	Text       string     `json:"text"`
	Contractor Contractor `json:"contractor"`
	SourceURL  string     `json:"url"`
}

// DocID is the string form of ID used by the feedback store.
func (d Document) DocID() string { return strconv.Itoa(d.ID) }

// Corpus is the metadata side table: parallel arrays indexed by doc id.
type Corpus struct {
	Texts       []string     `json:"texts" yaml:"texts"`
	Contractors []Contractor `json:"contractors" yaml:"contractors"`
	URLs        []string     `json:"urls" yaml:"urls"`
}

// Len returns the number of documents.
func (c *Corpus) Len() int { return len(c.Texts) }

// Document assembles the record at id.
func (c *Corpus) Document(id int) Document {
	d := Document{ID: id, Text: c.Texts[id], Contractor: c.Contractors[id]}
	if id < len(c.URLs) {
		d.SourceURL = c.URLs[id]
	}
	return d
}

func (c *Corpus) validate() error {
	if len(c.Texts) != len(c.Contractors) {
		return fmt.Errorf("corpus has %d texts but %d contractors", len(c.Texts), len(c.Contractors))
	}
	if len(c.URLs) != 0 && len(c.URLs) != len(c.Texts) {
		return fmt.Errorf("corpus has %d texts but %d urls", len(c.Texts), len(c.URLs))
	}
	return nil
}

// LoadCorpus reads a JSON or YAML sidecar, chosen by file extension.
func LoadCorpus(path string) (*Corpus, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	var c Corpus
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &c)
	default:
		err = json.Unmarshal(b, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding corpus %s: %w", filepath.Base(path), err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteCorpus writes the sidecar as JSON.
func WriteCorpus(path string, c *Corpus) error {
	if err := c.validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding corpus: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// ContractorText is the text a contractor is embedded as: labelled fields
// joined with " | ".
func ContractorText(c Contractor, url string) string {
	parts := []string{
		"Company Name: " + c.Name,
		"Address: " + c.Address,
		"Phone: " + c.Phone,
		"URL: " + url,
	}
	if c.AboutUs != "" {
		parts = append(parts, "About Us: "+c.AboutUs)
	}
	if c.YearsInBusiness != "" {
		parts = append(parts, "Years in Business: "+c.YearsInBusiness)
	}
	if c.NumberOfEmployees != "" {
		parts = append(parts, "Number of Employees: "+c.NumberOfEmployees)
	}
	if c.StateLicenseNumber != "" {
		parts = append(parts, "State License Number: "+c.StateLicenseNumber)
	}
	if len(c.Certifications) > 0 {
		parts = append(parts, "Certifications: "+strings.Join(c.Certifications, ", "))
	}
	return strings.Join(parts, " | ")
}
