package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".jobctl"
	configFile string = "config.yml"

	// configDirEnv overrides the directory holding the configuration file.
	configDirEnv = "JOBCTL_CONFIG_DIR"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// InferiorTTY is the terminal new inferiors are started on. When empty
	// each inferior gets a terminal created by the debugger (if supported)
	// or shares the debugger's terminal.
	InferiorTTY string `yaml:"inferior-tty,omitempty"`

	// ManagedTerminals enables the creation of a private pseudo-terminal for
	// each inferior started without an explicit terminal. Defaults to
	// whatever the platform supports.
	ManagedTerminals *bool `yaml:"managed-terminals,omitempty"`

	// JobControl overrides the job control probe. Disabling it makes the
	// debugger ignore SIGINT/SIGQUIT while an inferior runs instead of
	// moving the inferior to the terminal's foreground.
	JobControl *bool `yaml:"job-control,omitempty"`

	// DebugManagedTTY logs the lifecycle of debugger-created terminals.
	DebugManagedTTY bool `yaml:"debug-managed-tty"`

	// ForwardBufferSize is the size of the buffer used to copy data between
	// the debugger's terminal and inferior terminals.
	ForwardBufferSize *int `yaml:"forward-buffer-size,omitempty"`
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

	c, err := decodeConfig(f)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

func decodeConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
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

// ManagedTerminalsOr returns the configured value of managed-terminals or
// def when the option is not set.
func (c *Config) ManagedTerminalsOr(def bool) bool {
	if c == nil || c.ManagedTerminals == nil {
		return def
	}
	return *c.ManagedTerminals
}

// JobControlOr returns the configured value of job-control or def when the
// option is not set.
func (c *Config) JobControlOr(def bool) bool {
	if c == nil || c.JobControl == nil {
		return def
	}
	return *c.JobControl
}

// ForwardBufferSizeOr returns the configured forwarding buffer size or def
// when the option is unset or not positive.
func (c *Config) ForwardBufferSizeOr(def int) int {
	if c == nil || c.ForwardBufferSize == nil || *c.ForwardBufferSize <= 0 {
		return def
	}
	return *c.ForwardBufferSize
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
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("unable to rewind default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the jobctl debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Terminal used by new inferiors. When unset every inferior gets its own
# pseudo-terminal (where supported) or shares the debugger's terminal.
# inferior-tty: /dev/pts/3

# Set to false to always share the debugger's terminal with new inferiors.
# managed-terminals: true

# Set to false to behave as if the terminal had no job control.
# job-control: true

# Log the lifecycle of debugger-created terminals.
debug-managed-tty: false

# Size of the buffer used to copy data to and from inferior terminals.
# forward-buffer-size: 1024
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
	if dir := os.Getenv(configDirEnv); dir != "" {
		return path.Join(dir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
