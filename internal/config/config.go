package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Capture     CaptureConfig     `yaml:"capture"`
	Policy      PolicyConfig      `yaml:"policy"`
	Geofence    GeofenceConfig    `yaml:"geofence"`
	Device      DeviceConfig      `yaml:"device"`
	Replication ReplicationConfig `yaml:"replication"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

// StorageConfig selects the document store backing profiles and events.
// Driver is one of "sqlite", "postgres" or "memory".
type StorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string        `yaml:"models_dir"`
	ONNXLibrary        string        `yaml:"onnx_library"`
	DetectorModel      string        `yaml:"detector_model"`
	LandmarkModel      string        `yaml:"landmark_model"`
	EmbedderModel      string        `yaml:"embedder_model"`
	EmbeddingDim       int           `yaml:"embedding_dim"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	BootstrapTimeout   time.Duration `yaml:"bootstrap_timeout"`
}

// CaptureConfig drives the live quality gate and the post-capture review.
type CaptureConfig struct {
	TargetCount        int           `yaml:"target_count"`
	Interval           time.Duration `yaml:"interval"`
	MinConfidence      float64       `yaml:"min_confidence"`
	BaseBlurThreshold  float64       `yaml:"base_blur_threshold"`
	ReviewBlurCeiling  float64       `yaml:"review_blur_ceiling"`
	AnchorCeiling      float64       `yaml:"anchor_ceiling"`
	MinDiversityPct    float64       `yaml:"min_diversity_pct"`
	PhotoQuality       int           `yaml:"photo_quality"`
	ReviewDecodeLimit  int           `yaml:"review_decode_limit"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

// PolicyConfig holds the defaults for runtime verification policy.
type PolicyConfig struct {
	MatchThreshold     float64       `yaml:"match_threshold"`
	CooldownSeconds    int           `yaml:"cooldown_seconds"`
	CooldownPerStaff   bool          `yaml:"cooldown_per_staff"`
	EvidenceMaxWidth   int           `yaml:"evidence_max_width"`
	EvidenceMinWidth   int           `yaml:"evidence_min_width"`
	EvidenceQuality    int           `yaml:"evidence_quality"`
	EvidenceMinQuality int           `yaml:"evidence_min_quality"`
	EvidenceMaxBytes   int           `yaml:"evidence_max_bytes"`
	LocationTimeout    time.Duration `yaml:"location_timeout"`
}

type GeofenceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Lat        float64 `yaml:"lat"`
	Lng        float64 `yaml:"lng"`
	RadiusM    float64 `yaml:"radius_m"`
	OfficeName string  `yaml:"office_name"`
}

// DeviceConfig identifies this kiosk. When FixedPosition is set the kiosk
// reports Lat/Lng as its location instead of having no location source.
type DeviceConfig struct {
	ID            string  `yaml:"id"`
	FixedPosition bool    `yaml:"fixed_position"`
	Lat           float64 `yaml:"lat"`
	Lng           float64 `yaml:"lng"`
	AccuracyM     float64 `yaml:"accuracy_m"`
}

type ReplicationConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Default returns a config populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "attendance.db"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.ONNXLibrary == "" {
		cfg.Vision.ONNXLibrary = onnxLibraryName()
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.LandmarkModel == "" {
		cfg.Vision.LandmarkModel = "landmarks_68.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "face_128.onnx"
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 128
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.BootstrapTimeout == 0 {
		cfg.Vision.BootstrapTimeout = 30 * time.Second
	}
	if cfg.Capture.TargetCount == 0 {
		cfg.Capture.TargetCount = 20
	}
	if cfg.Capture.Interval == 0 {
		cfg.Capture.Interval = 600 * time.Millisecond
	}
	if cfg.Capture.MinConfidence == 0 {
		cfg.Capture.MinConfidence = 0.55
	}
	if cfg.Capture.BaseBlurThreshold == 0 {
		cfg.Capture.BaseBlurThreshold = 260
	}
	if cfg.Capture.ReviewBlurCeiling == 0 {
		cfg.Capture.ReviewBlurCeiling = 300
	}
	if cfg.Capture.AnchorCeiling == 0 {
		cfg.Capture.AnchorCeiling = 0.58
	}
	if cfg.Capture.MinDiversityPct == 0 {
		cfg.Capture.MinDiversityPct = 15
	}
	if cfg.Capture.PhotoQuality == 0 {
		cfg.Capture.PhotoQuality = 90
	}
	if cfg.Capture.ReviewDecodeLimit == 0 {
		cfg.Capture.ReviewDecodeLimit = 4
	}
	if cfg.Capture.SessionIdleTimeout == 0 {
		cfg.Capture.SessionIdleTimeout = 10 * time.Minute
	}
	if cfg.Policy.MatchThreshold == 0 {
		cfg.Policy.MatchThreshold = 0.6
	}
	if cfg.Policy.CooldownSeconds == 0 {
		cfg.Policy.CooldownSeconds = 300
	}
	if cfg.Policy.EvidenceMaxWidth == 0 {
		cfg.Policy.EvidenceMaxWidth = 640
	}
	if cfg.Policy.EvidenceMinWidth == 0 {
		cfg.Policy.EvidenceMinWidth = 240
	}
	if cfg.Policy.EvidenceQuality == 0 {
		cfg.Policy.EvidenceQuality = 80
	}
	if cfg.Policy.EvidenceMinQuality == 0 {
		cfg.Policy.EvidenceMinQuality = 40
	}
	if cfg.Policy.EvidenceMaxBytes == 0 {
		cfg.Policy.EvidenceMaxBytes = 60 * 1024
	}
	if cfg.Policy.LocationTimeout == 0 {
		cfg.Policy.LocationTimeout = 5 * time.Second
	}
	if cfg.Geofence.RadiusM == 0 {
		cfg.Geofence.RadiusM = 150
	}
	if cfg.Device.ID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Device.ID = host
		} else {
			cfg.Device.ID = "device-unknown"
		}
	}
	if cfg.Replication.Interval == 0 {
		cfg.Replication.Interval = 30 * time.Second
	}
	if cfg.Replication.BatchSize == 0 {
		cfg.Replication.BatchSize = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("ATT_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ATT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATT_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ATT_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("ATT_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.MatchThreshold = f
		}
	}
	if v := os.Getenv("ATT_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.CooldownSeconds = n
		}
	}
	if v := os.Getenv("ATT_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
}

// onnxLibraryName returns the ONNX Runtime shared library name for this OS.
func onnxLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
