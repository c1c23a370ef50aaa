package mudscript

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Interpreter configures one out-of-process engine
type Interpreter struct {
	Command  string `yaml:"command,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Option the client configuration
type Option struct {
	// ScriptsDir holds the user's script files; loaded in name order at
	// startup when set
	ScriptsDir string `yaml:"scripts_dir,omitempty"`

	// Watch reloads scripts when their files change
	Watch bool `yaml:"watch,omitempty"`

	// VarsFile persists script variables between sessions; empty keeps
	// them in memory
	VarsFile string `yaml:"vars_file,omitempty"`

	Python Interpreter `yaml:"python,omitempty"`
	Perl   Interpreter `yaml:"perl,omitempty"`
}

// LoadOption read an Option from a YAML file. A missing file yields the
// zero Option.
func LoadOption(path string) (Option, error) {
	opt := Option{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opt, nil
		}
		return opt, err
	}
	if err := yaml.Unmarshal(raw, &opt); err != nil {
		return opt, err
	}
	return opt, nil
}
