// Package config provides centralized configuration management for camrelay.
// Configuration is loaded from environment variables with sensible defaults.
// Required configuration that is missing will cause the application to fail fast
// with helpful error messages.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Run modes.
const (
	ModeFetch = "fetch"
	ModePush  = "push"
	ModeAll   = "all"
)

// Remote storage backends.
const (
	BackendS3   = "s3"
	BackendSFTP = "sftp"
	BackendDir  = "dir"
)

// Config holds all application configuration.
type Config struct {
	Mode string // fetch, push or all

	// Camera configuration
	CameraSSID      string
	HomeSSID        string // optional; empty rejoins any known network
	CameraAddr      string
	CameraFolders   []string
	CameraExtension string
	CameraRetries   int
	CameraTimeout   time.Duration
	CameraRate      float64 // requests per second (0 = unlimited)

	// Staging configuration
	StagingDir   string
	StagingLimit int // maximum staged pairs before fetch pauses

	// Scheduling configuration
	FetchInterval       time.Duration
	PushInterval        time.Duration
	UploadConcurrency   int
	RadioSwitching      bool
	CameraProbeInterval time.Duration

	// Radio configuration
	RadioInterface    string
	RadioPollInterval time.Duration
	ConnectAttempts   int

	// Remote storage configuration
	RemoteBackend string // "s3", "sftp" or "dir"

	S3Bucket          string
	S3Region          string
	S3Endpoint        string // custom endpoint for MinIO/GCS interop
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	SFTPHost       string
	SFTPPort       int
	SFTPUser       string
	SFTPPassword   string
	SFTPKeyPath    string
	SFTPKnownHosts string
	SFTPRemotePath string

	DirPath string

	// Observability
	LogLevel   string
	LogFormat  string
	StatusAddr string // empty disables the status server
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultMode                = ModeAll
	DefaultCameraAddr          = "192.168.1.254"
	DefaultCameraFolders       = "/CARDV/EMR/,/CARDV/EMR_E/"
	DefaultCameraExtension     = ".TS"
	DefaultCameraRetries       = 3
	DefaultCameraTimeout       = 30 * time.Second
	DefaultCameraRate          = float64(5)
	DefaultStagingLimit        = 100
	DefaultFetchInterval       = 10 * time.Minute
	DefaultPushInterval        = 30 * time.Second
	DefaultUploadConcurrency   = 1
	DefaultCameraProbeInterval = 5 * time.Minute
	DefaultRadioInterface      = "wlan0"
	DefaultRadioPollInterval   = 5 * time.Second
	DefaultConnectAttempts     = 5
	DefaultRemoteBackend       = BackendS3
	DefaultS3Region            = "us-east-1"
	DefaultSFTPPort            = 22
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	defaultStagingSubdir       = "dashcam"
)

// DefaultStagingDir returns $TMPDIR/dashcam.
func DefaultStagingDir() string {
	return filepath.Join(os.TempDir(), defaultStagingSubdir)
}

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := defaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Mode: DefaultMode,

		CameraAddr:      DefaultCameraAddr,
		CameraFolders:   splitList(DefaultCameraFolders),
		CameraExtension: DefaultCameraExtension,
		CameraRetries:   DefaultCameraRetries,
		CameraTimeout:   DefaultCameraTimeout,
		CameraRate:      DefaultCameraRate,

		StagingDir:   DefaultStagingDir(),
		StagingLimit: DefaultStagingLimit,

		FetchInterval:       DefaultFetchInterval,
		PushInterval:        DefaultPushInterval,
		UploadConcurrency:   DefaultUploadConcurrency,
		CameraProbeInterval: DefaultCameraProbeInterval,

		RadioInterface:    DefaultRadioInterface,
		RadioPollInterval: DefaultRadioPollInterval,
		ConnectAttempts:   DefaultConnectAttempts,

		RemoteBackend: DefaultRemoteBackend,
		S3Region:      DefaultS3Region,
		SFTPPort:      DefaultSFTPPort,

		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
	}
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	if v := os.Getenv("CAMRELAY_MODE"); v != "" {
		c.Mode = strings.ToLower(v)
	}

	// Camera configuration
	if v := os.Getenv("CAMRELAY_CAMERA_SSID"); v != "" {
		c.CameraSSID = v
	}
	if v := os.Getenv("CAMRELAY_HOME_SSID"); v != "" {
		c.HomeSSID = v
	}
	if v := os.Getenv("CAMRELAY_CAMERA_ADDR"); v != "" {
		c.CameraAddr = v
	}
	if v := os.Getenv("CAMRELAY_CAMERA_FOLDERS"); v != "" {
		c.CameraFolders = splitList(v)
	}
	if v := os.Getenv("CAMRELAY_CAMERA_EXTENSION"); v != "" {
		c.CameraExtension = v
	}
	if v := os.Getenv("CAMRELAY_CAMERA_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_CAMERA_RETRIES",
				Message: fmt.Sprintf("invalid attempt count: %q (must be a positive integer)", v),
			})
		} else {
			c.CameraRetries = n
		}
	}
	if v := os.Getenv("CAMRELAY_CAMERA_TIMEOUT"); v != "" {
		if d, ok := parseSeconds("CAMRELAY_CAMERA_TIMEOUT", v, &parseErrors); ok {
			c.CameraTimeout = d
		}
	}
	if v := os.Getenv("CAMRELAY_CAMERA_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_CAMERA_RATE",
				Message: fmt.Sprintf("invalid rate: %q (must be a non-negative number)", v),
			})
		} else {
			c.CameraRate = r
		}
	}

	// Staging configuration
	if v := os.Getenv("CAMRELAY_STAGING_DIR"); v != "" {
		c.StagingDir = filepath.Clean(v)
	}
	if v := os.Getenv("CAMRELAY_STAGING_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_STAGING_LIMIT",
				Message: fmt.Sprintf("invalid limit: %q (must be a positive integer)", v),
			})
		} else {
			c.StagingLimit = n
		}
	}

	// Scheduling configuration
	if v := os.Getenv("CAMRELAY_FETCH_INTERVAL"); v != "" {
		if d, ok := parseSeconds("CAMRELAY_FETCH_INTERVAL", v, &parseErrors); ok {
			c.FetchInterval = d
		}
	}
	if v := os.Getenv("CAMRELAY_PUSH_INTERVAL"); v != "" {
		if d, ok := parseSeconds("CAMRELAY_PUSH_INTERVAL", v, &parseErrors); ok {
			c.PushInterval = d
		}
	}
	if v := os.Getenv("CAMRELAY_UPLOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_UPLOAD_CONCURRENCY",
				Message: fmt.Sprintf("invalid concurrency: %q (must be a positive integer)", v),
			})
		} else {
			c.UploadConcurrency = n
		}
	}
	if v := os.Getenv("CAMRELAY_RADIO_SWITCHING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_RADIO_SWITCHING",
				Message: fmt.Sprintf("invalid boolean: %q", v),
			})
		} else {
			c.RadioSwitching = b
		}
	}
	if v := os.Getenv("CAMRELAY_CAMERA_PROBE_INTERVAL"); v != "" {
		if d, ok := parseSeconds("CAMRELAY_CAMERA_PROBE_INTERVAL", v, &parseErrors); ok {
			c.CameraProbeInterval = d
		}
	}

	// Radio configuration
	if v := os.Getenv("CAMRELAY_RADIO_INTERFACE"); v != "" {
		c.RadioInterface = v
	}
	if v := os.Getenv("CAMRELAY_RADIO_POLL_INTERVAL"); v != "" {
		if d, ok := parseSeconds("CAMRELAY_RADIO_POLL_INTERVAL", v, &parseErrors); ok {
			c.RadioPollInterval = d
		}
	}
	if v := os.Getenv("CAMRELAY_CONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_CONNECT_ATTEMPTS",
				Message: fmt.Sprintf("invalid attempt count: %q (must be a positive integer)", v),
			})
		} else {
			c.ConnectAttempts = n
		}
	}

	// Remote storage configuration
	if v := os.Getenv("CAMRELAY_REMOTE_BACKEND"); v != "" {
		c.RemoteBackend = strings.ToLower(v)
	}
	if v := os.Getenv("CAMRELAY_S3_BUCKET"); v != "" {
		c.S3Bucket = v
	}
	if v := os.Getenv("CAMRELAY_S3_REGION"); v != "" {
		c.S3Region = v
	}
	if v := os.Getenv("CAMRELAY_S3_ENDPOINT"); v != "" {
		c.S3Endpoint = v
	}
	if v := os.Getenv("CAMRELAY_S3_PREFIX"); v != "" {
		c.S3Prefix = v
	}
	if v := os.Getenv("CAMRELAY_S3_ACCESS_KEY_ID"); v != "" {
		c.S3AccessKeyID = v
	}
	if v := os.Getenv("CAMRELAY_S3_SECRET_ACCESS_KEY"); v != "" {
		c.S3SecretAccessKey = v
	}

	if v := os.Getenv("CAMRELAY_SFTP_HOST"); v != "" {
		c.SFTPHost = v
	}
	if v := os.Getenv("CAMRELAY_SFTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CAMRELAY_SFTP_PORT",
				Message: fmt.Sprintf("invalid port number: %q (must be an integer)", v),
			})
		} else {
			c.SFTPPort = port
		}
	}
	if v := os.Getenv("CAMRELAY_SFTP_USER"); v != "" {
		c.SFTPUser = v
	}
	if v := os.Getenv("CAMRELAY_SFTP_PASSWORD"); v != "" {
		c.SFTPPassword = v
	}
	if v := os.Getenv("CAMRELAY_SFTP_KEY_PATH"); v != "" {
		c.SFTPKeyPath = v
	}
	if v := os.Getenv("CAMRELAY_SFTP_KNOWN_HOSTS"); v != "" {
		c.SFTPKnownHosts = v
	}
	if v := os.Getenv("CAMRELAY_SFTP_REMOTE_PATH"); v != "" {
		c.SFTPRemotePath = v
	}

	if v := os.Getenv("CAMRELAY_DIR_PATH"); v != "" {
		c.DirPath = v
	}

	// Observability
	if v := os.Getenv("CAMRELAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CAMRELAY_LOG_FORMAT"); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("CAMRELAY_STATUS_ADDR"); v != "" {
		c.StatusAddr = v
	}

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// parseSeconds parses a positive integer number of seconds, recording a
// ValidationError against field on failure.
func parseSeconds(field, v string, errs *ValidationErrors) (time.Duration, bool) {
	seconds, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %q (must be an integer representing seconds)", v),
		})
		return 0, false
	}
	if seconds <= 0 {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("duration must be positive: %d", seconds),
		})
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	switch c.Mode {
	case ModeFetch, ModePush, ModeAll:
	default:
		errs = append(errs, ValidationError{
			Field:   "CAMRELAY_MODE",
			Message: fmt.Sprintf("unsupported mode: %q (must be \"fetch\", \"push\" or \"all\")", c.Mode),
		})
	}

	if c.CameraSSID == "" {
		errs = append(errs, ValidationError{
			Field:   "CAMRELAY_CAMERA_SSID",
			Message: "camera SSID is required",
		})
	}

	if c.StagingDir == "" {
		errs = append(errs, ValidationError{
			Field:   "CAMRELAY_STAGING_DIR",
			Message: "staging directory cannot be empty",
		})
	}

	if c.FetchesFromCamera() {
		if c.CameraAddr == "" {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_CAMERA_ADDR",
				Message: "camera address cannot be empty",
			})
		}
		if len(c.CameraFolders) == 0 {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_CAMERA_FOLDERS",
				Message: "at least one locked folder is required",
			})
		}
	}

	if c.PushesToRemote() {
		errs = append(errs, c.validateRemote()...)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, ValidationError{
			Field:   "CAMRELAY_LOG_FORMAT",
			Message: fmt.Sprintf("unsupported log format: %q (must be \"json\" or \"text\")", c.LogFormat),
		})
	}

	return errs
}

func (c *Config) validateRemote() ValidationErrors {
	var errs ValidationErrors

	switch c.RemoteBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_S3_BUCKET",
				Message: "S3 bucket is required when remote backend is \"s3\"",
			})
		}
		// If one credential is set, both must be set
		if (c.S3AccessKeyID != "") != (c.S3SecretAccessKey != "") {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_S3_ACCESS_KEY_ID / CAMRELAY_S3_SECRET_ACCESS_KEY",
				Message: "both S3 access key ID and secret access key must be set together",
			})
		}
	case BackendSFTP:
		if c.SFTPHost == "" || c.SFTPUser == "" {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_SFTP_HOST / CAMRELAY_SFTP_USER",
				Message: "SFTP host and user are required when remote backend is \"sftp\"",
			})
		}
		if c.SFTPPassword == "" && c.SFTPKeyPath == "" {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_SFTP_PASSWORD / CAMRELAY_SFTP_KEY_PATH",
				Message: "either an SFTP password or a private key path is required",
			})
		}
		if c.SFTPPort < 1 || c.SFTPPort > 65535 {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_SFTP_PORT",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.SFTPPort),
			})
		}
	case BackendDir:
		if c.DirPath == "" {
			errs = append(errs, ValidationError{
				Field:   "CAMRELAY_DIR_PATH",
				Message: "destination directory is required when remote backend is \"dir\"",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "CAMRELAY_REMOTE_BACKEND",
			Message: fmt.Sprintf("unsupported remote backend: %q (must be \"s3\", \"sftp\" or \"dir\")", c.RemoteBackend),
		})
	}

	return errs
}

// FetchesFromCamera returns true if this process runs the camera-side loop.
func (c *Config) FetchesFromCamera() bool {
	return c.Mode == ModeFetch || c.Mode == ModeAll
}

// PushesToRemote returns true if this process runs the upload loop.
func (c *Config) PushesToRemote() bool {
	return c.Mode == ModePush || c.Mode == ModeAll
}

// CameraBaseURL returns the camera's HTTP origin.
func (c *Config) CameraBaseURL() string {
	if strings.HasPrefix(c.CameraAddr, "http://") || strings.HasPrefix(c.CameraAddr, "https://") {
		return strings.TrimRight(c.CameraAddr, "/")
	}
	return "http://" + c.CameraAddr
}

// RemoteDestination describes where uploads go, without secrets.
func (c *Config) RemoteDestination() string {
	switch c.RemoteBackend {
	case BackendS3:
		return fmt.Sprintf("s3://%s/%s", c.S3Bucket, c.S3Prefix)
	case BackendSFTP:
		return fmt.Sprintf("sftp://%s@%s:%d/%s", c.SFTPUser, c.SFTPHost, c.SFTPPort, strings.TrimPrefix(c.SFTPRemotePath, "/"))
	case BackendDir:
		return "file://" + c.DirPath
	default:
		return ""
	}
}

// MustLoad loads configuration and exits if it fails.
// Use this for application startup where configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n\nSee README for CAMRELAY_* configuration options.\n", err)
		os.Exit(1)
	}
	return cfg
}

// LoadWithFlags loads configuration from environment variables,
// then applies command-line flag overrides.
func LoadWithFlags(mode, stagingDir, statusAddr string) (*Config, error) {
	cfg := defaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	// Apply flag overrides (only if non-empty values provided)
	if mode != "" {
		cfg.Mode = strings.ToLower(mode)
	}
	if stagingDir != "" {
		cfg.StagingDir = filepath.Clean(stagingDir)
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}
