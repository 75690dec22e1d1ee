package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the name of the configuration file looked up by Load
const FileName = "vcd.cfg.json"

// DocumentConfig holds document and output settings
type DocumentConfig struct {
	SchemaVersion  string `json:"schemaVersion" mapstructure:"schemaVersion"`
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	PrettyOutput   bool   `json:"prettyOutput" mapstructure:"prettyOutput"`
}

// StreamConfig holds live stream settings
type StreamConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// SetDefaults registers the default values. Load calls it; commands that run
// without a config file call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./vcdlogs")

	viper.SetDefault("document.schemaVersion", "4.3.0")
	viper.SetDefault("document.outputDir", "./annotations")
	viper.SetDefault("document.compressOutput", false)
	viper.SetDefault("document.prettyOutput", false)

	viper.SetDefault("stream.url", "")
	viper.SetDefault("stream.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "vcd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetEnvPrefix("VCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDocumentConfig returns the document settings
func GetDocumentConfig() DocumentConfig {
	return DocumentConfig{
		SchemaVersion:  viper.GetString("document.schemaVersion"),
		OutputDir:      viper.GetString("document.outputDir"),
		CompressOutput: viper.GetBool("document.compressOutput"),
		PrettyOutput:   viper.GetBool("document.prettyOutput"),
	}
}

// GetStreamConfig returns the live stream settings
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		URL:    viper.GetString("stream.url"),
		Secret: viper.GetString("stream.secret"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
