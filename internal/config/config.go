package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the cockpit backend.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`
	Comfy struct {
		URL               string `mapstructure:"url"`
		InputDir          string `mapstructure:"input_dir"`
		CheckpointsDir    string `mapstructure:"checkpoints_dir"`
		VAEDir            string `mapstructure:"vae_dir"`
		DefaultCheckpoint string `mapstructure:"default_checkpoint"`
	} `mapstructure:"comfy"`
	Paths struct {
		DataDir      string `mapstructure:"data_dir"`
		WorkflowsDir string `mapstructure:"workflows_dir"`
	} `mapstructure:"paths"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Jobs struct {
		// PersistUnknownParams controls whether caller params the manifest
		// does not declare are stored verbatim on the job record. The patch
		// engine ignores them either way.
		PersistUnknownParams bool `mapstructure:"persist_unknown_params"`
		// DefaultWorkflow is used when a job request names no workflow.
		DefaultWorkflow string `mapstructure:"default_workflow"`
	} `mapstructure:"jobs"`
}

// LoadConfig loads the configuration from a file and the environment.
// An explicit path wins; otherwise config.yaml is searched in the working
// directory and ./config. A missing config file falls back to defaults so
// a fresh checkout runs without any setup.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if path != "" {
		viper.SetConfigFile(path)
	}
	viper.SetEnvPrefix("cockpit")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Comfy.URL = strings.TrimRight(strings.TrimSpace(config.Comfy.URL), "/")

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8787)

	viper.SetDefault("comfy.url", "http://127.0.0.1:8188")
	viper.SetDefault("comfy.input_dir", "./comfy/input")
	viper.SetDefault("comfy.checkpoints_dir", "./comfy/models/checkpoints")
	viper.SetDefault("comfy.vae_dir", "./comfy/models/vae")

	viper.SetDefault("paths.data_dir", "./data")
	viper.SetDefault("paths.workflows_dir", "./workflows")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "cockpit")
	viper.SetDefault("db.name", "cockpit")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("jobs.persist_unknown_params", true)
	viper.SetDefault("jobs.default_workflow", "txt2img_base")
}
