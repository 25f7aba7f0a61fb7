package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aozora-works/kousei-engine/internal/utils/pathutil"
)

const envPrefix = "KOUSEI"

// Config is the engine-process configuration. It is populated from, in
// increasing precedence: built-in defaults, ~/.kousei/config.yaml, a .env
// file, KOUSEI_* environment variables, and command-line flags.
type Config struct {
	Port        int    `mapstructure:"port"`
	Host        string `mapstructure:"host"`
	Environment string `mapstructure:"environment"`

	KouseiHome string `mapstructure:"kousei_home"`
	ModelsDir  string `mapstructure:"models_dir"`

	// LlamaServerBin is the llama-server executable used to host models.
	// An empty value means "look it up on PATH"; if neither resolves, the
	// engine runs with the unavailable runtime and inference fails fast.
	LlamaServerBin string `mapstructure:"llama_server_bin"`

	// LlamaServerPort is the base port used for runtime subprocesses.
	LlamaServerPort int `mapstructure:"llama_server_port"`

	// MaxQueueDepth caps how many inference requests may wait their turn.
	MaxQueueDepth int `mapstructure:"max_queue_depth"`
}

var config *Config

func LoadEnvAndConfigFiles() error {
	kouseiHome, err := getKouseiHome()
	if err != nil {
		return err
	}

	modelsDir, err := getModelsDir(kouseiHome)
	if err != nil {
		return err
	}

	if err := createKouseiHomeDirs(kouseiHome); err != nil {
		return err
	}

	viper.Set("kousei_home", kouseiHome)
	viper.Set("models_dir", modelsDir)

	envFile := filepath.Join(kouseiHome, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat .env file: %w", err)
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AddConfigPath(kouseiHome)

	if err := LoadConfig(false); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			fmt.Println("No config file found. Using default config.")
		} else {
			return err
		}
	}

	return nil
}

func LoadConfig(reload bool) error {
	if config != nil && !reload {
		return fmt.Errorf("config already loaded")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config: %w", err)
		}
	}

	config = &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}
	applyDefaults(config)

	return nil
}

func GetConfig() *Config {
	if config == nil {
		panic("config not loaded")
	}

	return config
}

// IsLoaded reports whether LoadConfig has run. Used by the CLI so operator
// subcommands can share the run command's config bootstrap.
func IsLoaded() bool {
	return config != nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.LlamaServerPort == 0 {
		cfg.LlamaServerPort = DefaultLlamaServerPort
	}
	if cfg.MaxQueueDepth == 0 {
		cfg.MaxQueueDepth = DefaultMaxQueueDepth
	}
}

// Returns the kousei home directory path.
// It attempts to retrieve it from the following sources in order:
// 1. The `kousei_home` flag from viper.
// 2. The `KOUSEI_HOME` environment variable.
// 3. The default kousei home directory.
func getKouseiHome() (string, error) {
	kouseiHome := viper.GetString("kousei_home")
	if kouseiHome == "" {
		kouseiHome = os.Getenv("KOUSEI_HOME")
		if kouseiHome == "" {
			kouseiHome = DefaultKouseiHome
		}
	}

	kouseiHome, err := pathutil.ExpandPath(kouseiHome)
	if err != nil {
		return "", fmt.Errorf("failed to expand kousei home path: %w", err)
	}

	return kouseiHome, nil
}

func getModelsDir(kouseiHome string) (string, error) {
	if kouseiHome == "" {
		return "", ErrKouseiHomeNotSet
	}

	modelsDir := viper.GetString("models_dir")
	if modelsDir == "" {
		modelsDir = filepath.Join(kouseiHome, "models")
	}

	modelsDir, err := pathutil.ExpandPath(modelsDir)
	if err != nil {
		return "", ErrKouseiHomeExpandFailed
	}

	viper.Set("models_dir", modelsDir)
	return modelsDir, nil
}

func createKouseiHomeDirs(kouseiHome string) error {
	subdirs := []string{"models"}
	if err := os.MkdirAll(kouseiHome, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create kousei home directory: %w", err)
	}

	for _, subdir := range subdirs {
		dir := filepath.Join(kouseiHome, subdir)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", subdir, err)
		}
	}

	return nil
}
