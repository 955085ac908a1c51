// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package config loads and validates the backup agent's configuration from
// CLI flags, environment variables, an optional YAML config file and
// built-in defaults, in that order of precedence (flags win, then env,
// then the config file, then defaults).
package config

import "time"

// Config holds every setting the agent accepts, one field per flag in the
// external interface table. Koanf tags double as the CLI flag's long name.
type Config struct {
	Address   string `koanf:"address"`
	Port      int    `koanf:"port"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	VerifySSL bool   `koanf:"verify-ssl"`

	RcloneDestination string `koanf:"rclone-destination"`
	Retention         string `koanf:"retention"`
	RcloneArgs        string `koanf:"rclone-args"`
	RclonePurgeArgs   string `koanf:"rclone-purge-args"`

	// S3Endpoint/S3AccessKey/S3SecretKey/S3UseSSL configure the concrete
	// S3-compatible binding behind RcloneDestination's "remote:bucket/prefix"
	// syntax; the "remote" label itself is never resolved from an rclone
	// config file, per internal/transfer/s3.go's ParseDestination doc.
	S3Endpoint  string `koanf:"s3-endpoint"`
	S3AccessKey string `koanf:"s3-access-key"`
	S3SecretKey string `koanf:"s3-secret-key"`
	S3UseSSL    bool   `koanf:"s3-use-ssl"`

	DetectionTypes []string `koanf:"detection-types"`
	IgnoreCamera   []string `koanf:"ignore-camera"`

	FileStructureFormat string `koanf:"file-structure-format"`
	SQLitePath          string `koanf:"sqlite-path"`

	DownloadBufferSize string `koanf:"download-buffer-size"`
	PurgeInterval      string `koanf:"purge-interval"`
	MaxEventLength     string `koanf:"max-event-length"`
	SkipMissing        bool   `koanf:"skip-missing"`

	AppriseNotifier []string `koanf:"apprise-notifier"`
	Verbosity       int      `koanf:"verbosity"`
}

// DefaultFileStructureFormat is the path template used when
// --file-structure-format is not set.
const DefaultFileStructureFormat = "{camera_name}/{event.start:%Y-%m-%d}/{event.end:%Y-%m-%dT%H-%M-%S} {detection_type}.mp4"

// defaultConfig returns a Config with every field set to its documented
// default. CLI flags and environment variables are layered on top of this.
func defaultConfig() *Config {
	return &Config{
		Port:      443,
		VerifySSL: true,

		Retention: "7d",
		S3UseSSL:  true,

		FileStructureFormat: DefaultFileStructureFormat,
		SQLitePath:          "./events.sqlite",

		DownloadBufferSize: "512MiB",
		PurgeInterval:      "1d",
		MaxEventLength:     "2h",
		SkipMissing:        false,

		Verbosity: 0,
	}
}

// RetentionDuration parses the Retention field. Callers must only reach it
// after Validate has succeeded.
func (c *Config) RetentionDuration() (time.Duration, error) {
	return parseDurationField(c.Retention)
}

// PurgeIntervalDuration parses the PurgeInterval field.
func (c *Config) PurgeIntervalDuration() (time.Duration, error) {
	return parseDurationField(c.PurgeInterval)
}

// MaxEventLengthDuration parses the MaxEventLength field.
func (c *Config) MaxEventLengthDuration() (time.Duration, error) {
	return parseDurationField(c.MaxEventLength)
}

// DownloadBufferSizeBytes parses the DownloadBufferSize field.
func (c *Config) DownloadBufferSizeBytes() (uint64, error) {
	return parseBytesField(c.DownloadBufferSize)
}
