package config

import (
	"github.com/garyjia/procure-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Server: container.ServerConfig{
			Host:           c.Server.Host,
			Port:           c.Server.Port,
			ReadTimeout:    c.Server.ReadTimeout,
			WriteTimeout:   c.Server.WriteTimeout,
			RequestTimeout: c.Server.RequestTimeout,
		},
		NATS: container.NATSConfig{
			Enabled:       c.NATS.Enabled,
			URL:           c.NATS.URL,
			ClientName:    c.NATS.ClientName,
			SubjectPrefix: c.NATS.SubjectPrefix,
			MaxReconnects: c.NATS.MaxReconnects,
			ReconnectWait: c.NATS.ReconnectWait,
			FlushTimeout:  c.NATS.FlushTimeout,
		},
		Workers: container.WorkersConfig{
			OverlapAuditInterval: c.Workers.OverlapAuditInterval,
		},
	}
}
