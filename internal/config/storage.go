package config

import (
	"fmt"

	"mminte/internal/blob"
	"mminte/internal/store"
)

// BlobConfig configures where community models are persisted.
type BlobConfig struct {
	Driver string       `yaml:"driver"` // fs, s3, memory
	Root   string       `yaml:"root"`   // fs root; defaults to paths.community_dir
	S3     S3BlobConfig `yaml:"s3"`
}

// S3BlobConfig configures the s3 driver. Credentials come from the AWS
// default chain.
type S3BlobConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

func (b BlobConfig) validate() error {
	switch blob.Driver(b.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory, "":
		return nil
	case blob.DriverS3:
		if b.S3.Bucket == "" {
			return fmt.Errorf("blob driver s3 requires s3.bucket")
		}
		return nil
	default:
		return fmt.Errorf("unknown blob driver %q (valid: fs, s3, memory)", b.Driver)
	}
}

// BlobOptions returns the blob.Config for c. The fs root falls back to the
// community directory.
func (c *Config) BlobOptions() blob.Config {
	root := c.Blob.Root
	if root == "" {
		root = c.Paths.CommunityDir
	}
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		Root:   root,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3.Bucket,
			Region:    c.Blob.S3.Region,
			Endpoint:  c.Blob.S3.Endpoint,
			Prefix:    c.Blob.S3.Prefix,
			PathStyle: c.Blob.S3.PathStyle,
		},
	}
}

// StoreConfig configures result persistence.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, none
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

func (s StoreConfig) validate() error {
	switch store.Driver(s.Driver) {
	case store.DriverSQLite, store.DriverNone, "":
		return nil
	case store.DriverPostgres:
		if s.DSN == "" {
			return fmt.Errorf("store driver postgres requires dsn")
		}
		return nil
	default:
		return fmt.Errorf("unknown store driver %q (valid: sqlite, postgres, none)", s.Driver)
	}
}

// StoreOptions returns the store.Config for c.
func (c *Config) StoreOptions() store.Config {
	return store.Config{Driver: store.Driver(c.Store.Driver), Path: c.Store.Path, DSN: c.Store.DSN}
}
