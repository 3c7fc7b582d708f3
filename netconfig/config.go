// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package netconfig loads the JSON configuration file accepted by the CLI.
package netconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Config mirrors the CLI's flag surface, letting a session be fully
// specified by a file instead of flags.
type Config struct {
	Mode string `json:"mode"`

	SenderAddr   string `json:"sender_addr"`
	ReceiverAddr string `json:"receiver_addr"`

	DurationSeconds float64 `json:"duration_seconds"`
	IntervalSeconds float64 `json:"interval_seconds"`

	GroupSize   int `json:"group_size"`
	HistorySize int `json:"history_size"`
	BufferBound int `json:"buffer_bound"`

	NackTimeoutSeconds float64 `json:"nack_timeout_seconds"`

	WavIn  string `json:"wav_in"`
	WavOut string `json:"wav_out"`

	SimulateNetwork bool   `json:"simulate_network"`
	MiddleboxAddr   string `json:"middlebox_addr"`
	MetricsAddr     string `json:"metrics_addr"`

	LogLevel string `json:"log_level"`
}

// Duration returns DurationSeconds as a time.Duration.
func (c Config) Duration() time.Duration {
	return time.Duration(c.DurationSeconds * float64(time.Second))
}

// Interval returns IntervalSeconds as a time.Duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// NackTimeout returns NackTimeoutSeconds as a time.Duration.
func (c Config) NackTimeout() time.Duration {
	return time.Duration(c.NackTimeoutSeconds * float64(time.Second))
}

// Load parses a configuration document. Unknown keys fail construction
// rather than being silently ignored, so a typo in a config file surfaces
// immediately instead of quietly running with defaults.
func Load(r io.Reader) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("netconfig: %w", err)
	}
	return cfg, nil
}

// LoadBytes is a convenience wrapper over Load for an in-memory document.
func LoadBytes(b []byte) (Config, error) {
	return Load(bytes.NewReader(b))
}
