package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".elfscope"
	configFile string = "config.yml"
)

// DefaultHexdumpWidth is the number of bytes printed per hexdump line when
// hexdump-width is unset.
const DefaultHexdumpWidth = 16

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// DisassemblyFlavour is the assembly syntax used when printing
	// disassembled instructions. One of "gnu", "intel" or "go",
	// defaulting to "gnu" when unset or unrecognized.
	DisassemblyFlavour string `yaml:"disassembly-flavour"`

	// Demangle controls whether C++ and Rust symbol names are rewritten
	// to their source-level form before display. Unset means true.
	Demangle *bool `yaml:"demangle,omitempty"`

	// UseColors allows ANSI colors in listings. Colors are only emitted
	// when standard output is a terminal. Unset means true.
	UseColors *bool `yaml:"use-colors,omitempty"`

	// HexdumpWidth is the number of bytes per line in section hexdumps.
	HexdumpWidth int `yaml:"hexdump-width"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	if c.HexdumpWidth <= 0 {
		c.HexdumpWidth = DefaultHexdumpWidth
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for elfscope.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Assembly syntax used by the fn command. One of: gnu, intel, go.
# disassembly-flavour: gnu

# Uncomment the following line to print symbol names exactly as stored in
# the symbol table, without demangling C++ and Rust names.
# demangle: false

# Uncomment the following line to disable ANSI colors in listings even when
# standard output is a terminal.
# use-colors: false

# Number of bytes per line in section hexdumps.
# hexdump-width: 16
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
