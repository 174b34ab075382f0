// Package common provides shared constants, types, and utilities
// used across the MasyaVPN client.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.masyavpn.client"
	// AppName is the display name of the application.
	AppName = "MasyaVPN"
	// ConfigDirName is the name of the per-user application data directory.
	ConfigDirName = "masyavpn"
)

// File names used by the application.
const (
	ConfigFileName       = "config.yaml"
	LogFileName          = "masyavpn.log"
	EngineConfigDirName  = "vpn-config"
	EngineConfigFileName = "v2ray_config.json"
	HistoryFileName      = "history.db"
)

// Default timeouts and intervals.
const (
	// StartupTimeout bounds the startup of each external engine process.
	StartupTimeout = 30 * time.Second
	// ProbeTimeout bounds a single connectivity probe attempt.
	ProbeTimeout = 2 * time.Second
	// ProbeBackoff is the pause between connectivity probe attempts.
	ProbeBackoff = 1 * time.Second
	// ProbeAttempts is the number of connectivity probe attempts.
	ProbeAttempts = 3
)

// Supported tunnel protocol as named by the credential-issuing service.
const ProtocolV2Ray = "V2RAY"
