package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	AcknowledgementAsync = "async"
	AcknowledgementSync  = "sync"
	AcknowledgementQueue = "queue"
)

type LedgerConfig struct {
	ClaimLeaseSeconds int `koanf:"claim_lease_seconds" mapstructure:"claim_lease_seconds"`
	AwaitPollMillis   int `koanf:"await_poll_millis" mapstructure:"await_poll_millis"`
	RetentionHours    int `koanf:"retention_hours" mapstructure:"retention_hours"`
}

type AcknowledgementConfig struct {
	Mode    string `koanf:"mode" mapstructure:"mode"`
	Enabled bool   `koanf:"enabled" mapstructure:"enabled"`
}

type GatewaySettings struct {
	ID       string `koanf:"id" mapstructure:"id"`
	SenderID string `koanf:"sender_id" mapstructure:"sender_id"`
}

type CacheConfig struct {
	MetadataTTLSeconds int `koanf:"metadata_ttl_seconds" mapstructure:"metadata_ttl_seconds"`
}

type Config struct {
	ServiceName     string                `koanf:"service_name" mapstructure:"service_name"`
	Ledger          LedgerConfig          `koanf:"ledger" mapstructure:"ledger"`
	Acknowledgement AcknowledgementConfig `koanf:"acknowledgement" mapstructure:"acknowledgement"`
	Gateway         GatewaySettings       `koanf:"gateway" mapstructure:"gateway"`
	Cache           CacheConfig           `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "smsintake",
		Ledger: LedgerConfig{
			ClaimLeaseSeconds: 60,
			AwaitPollMillis:   50,
			RetentionHours:    720,
		},
		Acknowledgement: AcknowledgementConfig{
			Mode:    AcknowledgementAsync,
			Enabled: true,
		},
		Cache: CacheConfig{
			MetadataTTLSeconds: 300,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Ledger.ClaimLeaseSeconds < 0 {
		return fmt.Errorf("core: ledger.claim_lease_seconds must be >= 0")
	}
	if c.Ledger.AwaitPollMillis < 0 {
		return fmt.Errorf("core: ledger.await_poll_millis must be >= 0")
	}
	if c.Cache.MetadataTTLSeconds < 0 {
		return fmt.Errorf("core: cache.metadata_ttl_seconds must be >= 0")
	}
	switch strings.TrimSpace(strings.ToLower(c.Acknowledgement.Mode)) {
	case "", AcknowledgementAsync, AcknowledgementSync, AcknowledgementQueue:
	default:
		return fmt.Errorf("core: acknowledgement.mode %q is invalid", c.Acknowledgement.Mode)
	}
	return nil
}

func (c Config) ClaimLease() time.Duration {
	return time.Duration(c.Ledger.ClaimLeaseSeconds) * time.Second
}

func (c Config) AwaitPoll() time.Duration {
	if c.Ledger.AwaitPollMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(c.Ledger.AwaitPollMillis) * time.Millisecond
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.Ledger.RetentionHours) * time.Hour
}

func (c Config) MetadataTTL() time.Duration {
	return time.Duration(c.Cache.MetadataTTLSeconds) * time.Second
}

func (c Config) AcknowledgementMode() string {
	mode := strings.TrimSpace(strings.ToLower(c.Acknowledgement.Mode))
	if mode == "" {
		return AcknowledgementAsync
	}
	return mode
}

func (c Config) GatewayConfig() GatewayConfig {
	return GatewayConfig{
		GatewayID: strings.TrimSpace(c.Gateway.ID),
		SenderID:  strings.TrimSpace(c.Gateway.SenderID),
	}
}
