package setup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preseed supplies setup answers non-interactively. Every field is
// optional; missing values fall back to interactive prompts.
type Preseed struct {
	Address    string `yaml:"address"`
	Port       string `yaml:"port"`
	Passphrase string `yaml:"passphrase"`

	// ReuseExistingKey controls what happens when a private key is found
	// on disk: true keeps it, false rotates it out.
	ReuseExistingKey *bool `yaml:"reuse_existing_key"`

	Subject struct {
		Country      string `yaml:"country"`
		State        string `yaml:"state"`
		Locality     string `yaml:"locality"`
		Organization string `yaml:"organization"`
		CommonName   string `yaml:"common_name"`
	} `yaml:"subject"`
}

// LoadPreseed parses the YAML preseed file at path.
func LoadPreseed(path string) (*Preseed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preseed file %s: %w", path, err)
	}
	var p Preseed
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse preseed file %s: %w", path, err)
	}
	return &p, nil
}
