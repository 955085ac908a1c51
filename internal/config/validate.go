// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package config

import (
	"fmt"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/notify"
)

// Validate checks that every required field is present and every duration /
// byte-size / template expression parses. A non-nil return is a
// configuration error: the caller must exit 200 without starting the
// supervisor.
func (c *Config) Validate() error {
	if err := c.validateNVR(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateDetectionTypes(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	if err := c.validateBufferSize(); err != nil {
		return err
	}
	return c.validateNotifiers()
}

func (c *Config) validateNVR() error {
	if c.Address == "" {
		return fmt.Errorf("--address (UFP_ADDRESS) is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("--username (UFP_USERNAME) is required")
	}
	if c.Password == "" {
		return fmt.Errorf("--password (UFP_PASSWORD) is required")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.RcloneDestination == "" {
		return fmt.Errorf("--rclone-destination (RCLONE_DESTINATION) is required")
	}
	if c.S3Endpoint == "" {
		return fmt.Errorf("--s3-endpoint (S3_ENDPOINT) is required")
	}
	return nil
}

func (c *Config) validateDetectionTypes() error {
	for _, dt := range c.DetectionTypes {
		if _, ok := model.ParseDetectionType(dt); !ok {
			return fmt.Errorf("--detection-types: unknown detection type %q", dt)
		}
	}
	return nil
}

func (c *Config) validateDurations() error {
	if _, err := c.RetentionDuration(); err != nil {
		return fmt.Errorf("--retention: %w", err)
	}
	if _, err := c.PurgeIntervalDuration(); err != nil {
		return fmt.Errorf("--purge-interval: %w", err)
	}
	if _, err := c.MaxEventLengthDuration(); err != nil {
		return fmt.Errorf("--max-event-length: %w", err)
	}
	return nil
}

func (c *Config) validateBufferSize() error {
	if _, err := c.DownloadBufferSizeBytes(); err != nil {
		return fmt.Errorf("--download-buffer-size: %w", err)
	}
	return nil
}

func (c *Config) validateNotifiers() error {
	for _, spec := range c.AppriseNotifier {
		if err := notify.ValidateSpec(spec); err != nil {
			return fmt.Errorf("--apprise-notifier %q: %w", spec, err)
		}
	}
	return nil
}
