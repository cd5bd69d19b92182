// Package remote uploads staged recordings to their final destination: an
// S3-compatible bucket, an SFTP server or a mounted directory.
package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rjsadow/camrelay/internal/config"
)

// Object is a staged recording ready for upload.
type Object struct {
	Name     string
	Path     string // local content file
	Size     int64
	MimeType string
	SHA256   string
}

// Result describes a finished upload.
type Result struct {
	// Skipped is true when the destination already held an object with the
	// same name and nothing was transferred.
	Skipped bool

	// Location is where the object lives at the destination.
	Location string
}

// Store is a remote destination for recordings.
type Store interface {
	// Upload transfers obj unless the destination already has it.
	Upload(ctx context.Context, obj Object) (Result, error)

	// Close releases connections held by the store.
	Close() error
}

// NewStore creates the Store selected by cfg.RemoteBackend.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.RemoteBackend {
	case config.BackendS3:
		s, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSFTP:
		s, err := NewSFTPStore(SFTPOptions{
			Host:       cfg.SFTPHost,
			Port:       cfg.SFTPPort,
			User:       cfg.SFTPUser,
			Password:   cfg.SFTPPassword,
			KeyPath:    cfg.SFTPKeyPath,
			KnownHosts: cfg.SFTPKnownHosts,
			RemotePath: cfg.SFTPRemotePath,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendDir:
		s, err := NewDirStore(cfg.DirPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported remote backend: %q", cfg.RemoteBackend)
	}
}
