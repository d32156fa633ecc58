package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/generator"
	"github.com/kratadata/quartier-atlas/internal/labeler"
	"github.com/kratadata/quartier-atlas/internal/pipeline"
)

const configPathEnv = "QUARTIER_CONFIG"

var (
	ErrMissingFalKey           = errors.New("FAL_KEY is required")
	ErrMissingReplicateToken   = errors.New("REPLICATE_API_TOKEN is required for the replicate labeler")
	ErrUnknownPlacementBackend = errors.New("unknown placement backend")
	ErrUnknownLabelerBackend   = errors.New("unknown labeler backend")
)

// Config is fixed at startup.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Labeler    LabelerConfig    `yaml:"labeler"`
	Generation GenerationConfig `yaml:"generation"`
	Districts  DistrictConfig   `yaml:"districts"`
	Storage    StorageConfig    `yaml:"storage"`
	Placements PlacementConfig  `yaml:"placements"`
	Photo      PhotoConfig      `yaml:"photo"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

type ServerConfig struct {
	Port              int      `yaml:"port"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	UploadDir         string   `yaml:"uploadDir"`
	PublicDir         string   `yaml:"publicDir"`
	PlaceholderDir    string   `yaml:"placeholderDir"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	AdminPasswordHash string   `yaml:"adminPasswordHash"`
	// GeneratePerMinute limits generation requests per client; 0 disables.
	GeneratePerMinute float64 `yaml:"generatePerMinute"`
	GenerateBurst     int     `yaml:"generateBurst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	SQL   bool   `yaml:"sql"`
}

// LabelerConfig picks the vision backend: replicate, ollama or none.
type LabelerConfig struct {
	Backend  string `yaml:"backend"`
	Prompt   string `yaml:"prompt"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type GenerationConfig struct {
	FalKey        string  `yaml:"falKey"`
	Workflow      string  `yaml:"workflow"`
	Prompt        string  `yaml:"prompt"`
	GuidanceScale float64 `yaml:"guidanceScale"`
	LoraPath      string  `yaml:"loraPath"`
	LoraScale     float64 `yaml:"loraScale"`
	ErrorTemplate string  `yaml:"errorTemplate"`
}

// Style returns the workflow style settings.
func (g GenerationConfig) Style() generator.Style {
	return generator.Style{
		Prompt:        g.Prompt,
		GuidanceScale: g.GuidanceScale,
		LoraScale:     g.LoraScale,
		LoraPath:      g.LoraPath,
	}
}

type DistrictConfig struct {
	DatasetURL  string `yaml:"datasetUrl"`
	OutsideName string `yaml:"outsideName"`
	IDKey       string `yaml:"idKey"`
	NameKey     string `yaml:"nameKey"`
	LabelKey    string `yaml:"labelKey"`
}

// Keys returns the GeoJSON property names.
func (d DistrictConfig) Keys() districts.PropertyKeys {
	return districts.PropertyKeys{ID: d.IDKey, Name: d.NameKey, Label: d.LabelKey}
}

type R2Config struct {
	AccountID       string `yaml:"accountId"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Bucket          string `yaml:"bucket"`
	PublicURL       string `yaml:"publicUrl"`
}

// Enabled reports whether enough is set to use the bucket.
func (r R2Config) Enabled() bool {
	return r.Bucket != "" && r.AccessKeyID != "" && r.SecretAccessKey != ""
}

type StorageConfig struct {
	R2          R2Config `yaml:"r2"`
	LocalDir    string   `yaml:"localDir"`
	LocalPrefix string   `yaml:"localPrefix"`
}

// PlacementConfig picks the placement backend: file, sqlite or postgres.
type PlacementConfig struct {
	Backend    string `yaml:"backend"`
	File       string `yaml:"file"`
	SQLitePath string `yaml:"sqlitePath"`
	DSN        string `yaml:"dsn"`
}

type PhotoConfig struct {
	ExiftoolCommand string `yaml:"exiftoolCommand"`
	MaxDimension    int    `yaml:"maxDimension"`
	JPEGQuality     int    `yaml:"jpegQuality"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientId"`
}

// Default mirrors the installation as it was first deployed.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              3000,
			MaxUploadBytes:    10 << 20,
			UploadDir:         "uploads",
			PublicDir:         "public",
			PlaceholderDir:    "placeholders",
			CORSOrigins:       []string{"*"},
			GeneratePerMinute: 6,
			GenerateBurst:     3,
		},
		Log: LogConfig{Level: "info"},
		Labeler: LabelerConfig{
			Backend:  "replicate",
			Prompt:   labeler.DefaultPrompt,
			Model:    labeler.DefaultReplicateModel,
			Endpoint: "http://localhost:11434",
		},
		Generation: GenerationConfig{
			Workflow:      generator.DefaultWorkflow,
			Prompt:        generator.DefaultStyle.Prompt,
			GuidanceScale: generator.DefaultStyle.GuidanceScale,
			LoraPath:      generator.DefaultStyle.LoraPath,
			LoraScale:     generator.DefaultStyle.LoraScale,
			ErrorTemplate: pipeline.DefaultErrorTemplate,
		},
		Districts: DistrictConfig{
			DatasetURL:  districts.DefaultDatasetURL,
			OutsideName: districts.DefaultOutsideName,
			IDKey:       districts.DefaultPropertyKeys.ID,
			NameKey:     districts.DefaultPropertyKeys.Name,
			LabelKey:    districts.DefaultPropertyKeys.Label,
		},
		Storage: StorageConfig{
			LocalDir:    "gen-images",
			LocalPrefix: "/gen-images",
		},
		Placements: PlacementConfig{
			Backend:    "file",
			File:       "image-positions.json",
			SQLitePath: "data/placements.db",
		},
		Photo: PhotoConfig{
			ExiftoolCommand: "exiftool",
			MaxDimension:    0,
			JPEGQuality:     90,
		},
		MQTT: MQTTConfig{Topic: "quartier/artifacts"},
	}
}

// Load reads .env files, the optional YAML file named by QUARTIER_CONFIG and
// environment overrides, in that order.
func Load() (Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("FAL_KEY", &c.Generation.FalKey)
	str("FAL_WORKFLOW", &c.Generation.Workflow)
	str("REPLICATE_API_TOKEN", &c.Labeler.Token)
	str("LABELER_BACKEND", &c.Labeler.Backend)
	str("LABELER_MODEL", &c.Labeler.Model)
	str("OLLAMA_URL", &c.Labeler.Endpoint)
	str("R2_ACCOUNT_ID", &c.Storage.R2.AccountID)
	str("R2_ACCESS_KEY_ID", &c.Storage.R2.AccessKeyID)
	str("R2_SECRET_ACCESS_KEY", &c.Storage.R2.SecretAccessKey)
	str("R2_BUCKET_NAME", &c.Storage.R2.Bucket)
	str("R2_PUBLIC_URL", &c.Storage.R2.PublicURL)
	str("PLACEMENT_BACKEND", &c.Placements.Backend)
	str("PLACEMENT_FILE", &c.Placements.File)
	str("SQLITE_PATH", &c.Placements.SQLitePath)
	str("DATABASE_URL", &c.Placements.DSN)
	str("ADMIN_PASSWORD_HASH", &c.Server.AdminPasswordHash)
	str("DISTRICT_DATASET_URL", &c.Districts.DatasetURL)
	str("OUTSIDE_NAME", &c.Districts.OutsideName)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_TOPIC", &c.MQTT.Topic)

	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.Server.MaxUploadBytes = n
	}
	return nil
}

// Validate reports the first setting that prevents startup.
func (c Config) Validate() error {
	if c.Generation.FalKey == "" {
		return ErrMissingFalKey
	}

	switch c.Labeler.Backend {
	case "replicate":
		if c.Labeler.Token == "" {
			return ErrMissingReplicateToken
		}
	case "ollama", "none":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLabelerBackend, c.Labeler.Backend)
	}

	switch c.Placements.Backend {
	case "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPlacementBackend, c.Placements.Backend)
	}
	if c.Placements.Backend == "postgres" && c.Placements.DSN == "" {
		return errors.New("DATABASE_URL is required for the postgres placement backend")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size %d", c.Server.MaxUploadBytes)
	}
	if strings.Count(c.Generation.ErrorTemplate, "%s") != 1 {
		return fmt.Errorf("error template must contain exactly one %%s: %q", c.Generation.ErrorTemplate)
	}
	return nil
}
