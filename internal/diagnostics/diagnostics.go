// Package diagnostics provides support bundle generation for collecting
// system health, configuration, radio and staging information.
package diagnostics

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rjsadow/camrelay/internal/config"
	"github.com/rjsadow/camrelay/internal/radio"
	"github.com/rjsadow/camrelay/internal/staging"
)

// RadioSource reports the radio state.
type RadioSource interface {
	State() radio.State
}

// StagingSource reports on the staging directory.
type StagingSource interface {
	Stats() (staging.Stats, error)
	CheckWritable() error
}

// Collector gathers diagnostic information from the system.
type Collector struct {
	config  *config.Config
	radio   RadioSource
	staging StagingSource
	started time.Time
}

// NewCollector creates a new diagnostics collector. radio may be nil when
// the process does not own the radio.
func NewCollector(cfg *config.Config, r RadioSource, s StagingSource, started time.Time) *Collector {
	return &Collector{
		config:  cfg,
		radio:   r,
		staging: s,
		started: started,
	}
}

// Bundle represents a complete diagnostics bundle.
type Bundle struct {
	GeneratedAt time.Time      `json:"generated_at"`
	System      SystemInfo     `json:"system"`
	Config      RedactedConfig `json:"config"`
	Health      HealthSummary  `json:"health"`
	Radio       RadioInfo      `json:"radio"`
	Staging     staging.Stats  `json:"staging"`
	Runtime     RuntimeInfo    `json:"runtime"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	GoVersion     string  `json:"go_version"`
	GOOS          string  `json:"goos"`
	GOARCH        string  `json:"goarch"`
	NumCPU        int     `json:"num_cpu"`
	Hostname      string  `json:"hostname"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// RedactedConfig contains configuration with secrets removed.
type RedactedConfig struct {
	Mode              string   `json:"mode"`
	CameraSSID        string   `json:"camera_ssid"`
	HomeSSID          string   `json:"home_ssid,omitempty"`
	CameraURL         string   `json:"camera_url"`
	CameraFolders     []string `json:"camera_folders"`
	StagingDir        string   `json:"staging_dir"`
	StagingLimit      int      `json:"staging_limit"`
	FetchInterval     string   `json:"fetch_interval"`
	PushInterval      string   `json:"push_interval"`
	UploadConcurrency int      `json:"upload_concurrency"`
	RadioSwitching    bool     `json:"radio_switching"`
	RadioInterface    string   `json:"radio_interface"`
	RemoteBackend     string   `json:"remote_backend"`
	RemoteDestination string   `json:"remote_destination"`
	S3CredentialsSet  bool     `json:"s3_credentials_set"`
	SFTPAuth          string   `json:"sftp_auth,omitempty"`
}

// HealthSummary contains the overall health status.
type HealthSummary struct {
	Overall string          `json:"overall"`
	Staging ComponentHealth `json:"staging"`
	Radio   ComponentHealth `json:"radio"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// RadioInfo is the radio state at collection time.
type RadioInfo struct {
	Phase string `json:"phase"`
	SSID  string `json:"ssid,omitempty"`
}

// RuntimeInfo contains Go runtime information.
type RuntimeInfo struct {
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

// MemoryStats contains memory statistics.
type MemoryStats struct {
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	NumGC        uint32  `json:"num_gc"`
}

// Collect gathers all diagnostic information into a Bundle.
func (c *Collector) Collect() *Bundle {
	bundle := &Bundle{
		GeneratedAt: time.Now().UTC(),
	}

	bundle.System = c.collectSystemInfo()
	bundle.Config = c.collectRedactedConfig()
	bundle.Radio = c.collectRadioInfo()
	bundle.Health = c.collectHealth(bundle.Radio)
	bundle.Staging = c.collectStagingStats()
	bundle.Runtime = c.collectRuntimeInfo()

	return bundle
}

// WriteTarGz writes the diagnostics bundle as a tar.gz archive to the given writer.
func (c *Collector) WriteTarGz(w io.Writer) error {
	bundle := c.Collect()

	gzw := gzip.NewWriter(w)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	bundleJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bundle: %w", err)
	}
	if err := addFileToTar(tw, "diagnostics/bundle.json", bundleJSON); err != nil {
		return fmt.Errorf("adding bundle.json to archive: %w", err)
	}

	// Write individual sections for easier parsing
	sections := map[string]any{
		"diagnostics/system.json":  bundle.System,
		"diagnostics/config.json":  bundle.Config,
		"diagnostics/health.json":  bundle.Health,
		"diagnostics/radio.json":   bundle.Radio,
		"diagnostics/staging.json": bundle.Staging,
		"diagnostics/runtime.json": bundle.Runtime,
	}

	for name, data := range sections {
		jsonData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", name, err)
		}
		if err := addFileToTar(tw, name, jsonData); err != nil {
			return fmt.Errorf("adding %s to archive: %w", name, err)
		}
	}

	return nil
}

func addFileToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0644,
		ModTime: time.Now(),
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err := tw.Write(data)
	return err
}

func (c *Collector) collectSystemInfo() SystemInfo {
	hostname, _ := os.Hostname()
	uptime := time.Since(c.started)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		Hostname:      hostname,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	}
}

func (c *Collector) collectRedactedConfig() RedactedConfig {
	rc := RedactedConfig{
		Mode:              c.config.Mode,
		CameraSSID:        c.config.CameraSSID,
		HomeSSID:          c.config.HomeSSID,
		CameraURL:         c.config.CameraBaseURL(),
		CameraFolders:     c.config.CameraFolders,
		StagingDir:        c.config.StagingDir,
		StagingLimit:      c.config.StagingLimit,
		FetchInterval:     c.config.FetchInterval.String(),
		PushInterval:      c.config.PushInterval.String(),
		UploadConcurrency: c.config.UploadConcurrency,
		RadioSwitching:    c.config.RadioSwitching,
		RadioInterface:    c.config.RadioInterface,
		RemoteBackend:     c.config.RemoteBackend,
		RemoteDestination: c.config.RemoteDestination(),
		S3CredentialsSet:  c.config.S3AccessKeyID != "" && c.config.S3SecretAccessKey != "",
	}
	if c.config.RemoteBackend == config.BackendSFTP {
		switch {
		case c.config.SFTPKeyPath != "":
			rc.SFTPAuth = "key"
		case c.config.SFTPPassword != "":
			rc.SFTPAuth = "password"
		default:
			rc.SFTPAuth = "none"
		}
	}
	return rc
}

func (c *Collector) collectRadioInfo() RadioInfo {
	if c.radio == nil {
		return RadioInfo{Phase: "unmanaged"}
	}
	st := c.radio.State()
	return RadioInfo{Phase: string(st.Phase), SSID: st.SSID}
}

func (c *Collector) collectHealth(r RadioInfo) HealthSummary {
	summary := HealthSummary{
		Overall: "healthy",
	}

	if err := c.staging.CheckWritable(); err != nil {
		summary.Staging = ComponentHealth{Healthy: false, Message: err.Error()}
		summary.Overall = "degraded"
	} else {
		summary.Staging = ComponentHealth{Healthy: true, Message: "OK"}
	}

	// Being between networks is normal on a single radio, so it is reported
	// but does not degrade the bundle.
	switch r.Phase {
	case string(radio.PhaseConnected):
		summary.Radio = ComponentHealth{Healthy: true, Message: "connected to " + r.SSID}
	case "unmanaged":
		summary.Radio = ComponentHealth{Healthy: true, Message: "radio not managed by this process"}
	default:
		summary.Radio = ComponentHealth{Healthy: false, Message: r.Phase}
	}

	return summary
}

func (c *Collector) collectStagingStats() staging.Stats {
	stats, err := c.staging.Stats()
	if err != nil {
		return staging.Stats{}
	}
	return stats
}

func (c *Collector) collectRuntimeInfo() RuntimeInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeInfo{
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			AllocMB:      float64(memStats.Alloc) / 1024 / 1024,
			TotalAllocMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			SysMB:        float64(memStats.Sys) / 1024 / 1024,
			NumGC:        memStats.NumGC,
		},
	}
}
