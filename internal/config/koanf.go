// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigPathEnvVar overrides DefaultConfigPaths when set.
const ConfigPathEnvVar = "CONFIG_FILE"

// DefaultConfigPaths lists the paths an optional YAML config file is
// searched for, in order, when CONFIG_FILE is not set. A config file sits
// between defaults and environment variables in precedence, the same slot
// the rest of the CLI/env table documents for every other source.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/unifi-protect-backup/config.yaml",
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps the subset of flags spec.md gives an explicit environment
// variable to their koanf key. Flags with no documented env var (e.g.
// --purge-interval) are CLI/default only, matching the external interface
// table exactly rather than inventing additional env names.
var envMappings = map[string]string{
	"UFP_ADDRESS":          "address",
	"UFP_PORT":             "port",
	"UFP_USERNAME":         "username",
	"UFP_PASSWORD":         "password",
	"UFP_SSL_VERIFY":       "verify-ssl",
	"RCLONE_DESTINATION":   "rclone-destination",
	"RCLONE_RETENTION":     "retention",
	"DETECTION_TYPES":      "detection-types",
	"IGNORE_CAMERAS":       "ignore-camera",
	"FILE_STRUCTURE_FORMAT": "file-structure-format",
	"SQLITE_PATH":          "sqlite-path",
	"S3_ENDPOINT":          "s3-endpoint",
	"S3_ACCESS_KEY":        "s3-access-key",
	"S3_SECRET_KEY":        "s3-secret-key",
	"S3_USE_SSL":           "s3-use-ssl",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// sliceConfigKeys lists koanf keys that environment variables deliver as
// comma-separated strings but the Config struct expects as []string.
var sliceConfigKeys = []string{"detection-types", "ignore-camera"}

// Flags builds the pflag.FlagSet matching the external interface table. It
// is exposed separately from Load so cmd/backup-agent can parse os.Args once
// and also print --help/--version.
func Flags(args []string) (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("unifi-protect-backup", pflag.ContinueOnError)

	d := defaultConfig()

	fs.String("address", d.Address, "UniFi Protect NVR host (required)")
	fs.Int("port", d.Port, "UniFi Protect NVR port")
	fs.String("username", d.Username, "NVR username (required)")
	fs.String("password", d.Password, "NVR password (required)")
	fs.Bool("verify-ssl", d.VerifySSL, "verify the NVR's TLS certificate")

	fs.String("rclone-destination", d.RcloneDestination, "remote:path transfer destination (required)")
	fs.String("retention", d.Retention, "how long clips are kept on the remote")
	fs.String("rclone-args", d.RcloneArgs, "extra flags passed to every transfer")
	fs.String("rclone-purge-args", d.RclonePurgeArgs, "extra flags passed to every delete")

	fs.String("s3-endpoint", d.S3Endpoint, "S3-compatible endpoint backing the rclone destination (required)")
	fs.String("s3-access-key", d.S3AccessKey, "S3 access key")
	fs.String("s3-secret-key", d.S3SecretKey, "S3 secret key")
	fs.Bool("s3-use-ssl", d.S3UseSSL, "use TLS when talking to the S3 endpoint")

	fs.StringSlice("detection-types", d.DetectionTypes, "comma-list of motion,person,vehicle,ring; empty means all")
	fs.StringSlice("ignore-camera", d.IgnoreCamera, "camera IDs to never back up")

	fs.String("file-structure-format", d.FileStructureFormat, "remote path template")
	fs.String("sqlite-path", d.SQLitePath, "event ledger file path")

	fs.String("download-buffer-size", d.DownloadBufferSize, "max bytes buffered between download and upload")
	fs.String("purge-interval", d.PurgeInterval, "how often the purger runs")
	fs.String("max-event-length", d.MaxEventLength, "events longer than this are skipped")
	fs.Bool("skip-missing", d.SkipMissing, "seed the ledger with existing events instead of backing them up")

	fs.StringSlice("apprise-notifier", d.AppriseNotifier, "LEVELS=url notifier targets, repeatable")
	fs.CountP("verbosity", "v", "increase log verbosity (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs, nil
}

// Load builds the final Config from defaults, environment variables and
// parsed CLI flags, in ascending precedence, then validates it.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceEnvValues(k); err != nil {
		return nil, err
	}

	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load CLI flags: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// processSliceEnvValues splits comma-separated env values for the slice
// fields before the CLI layer (which already yields real []string via
// pflag.StringSlice) is merged on top.
func processSliceEnvValues(k *koanf.Koanf) error {
	for _, key := range sliceConfigKeys {
		val := k.Get(key)
		s, ok := val.(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Fields(strings.ReplaceAll(s, ",", " "))
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("failed to process %s: %w", key, err)
		}
	}
	return nil
}
