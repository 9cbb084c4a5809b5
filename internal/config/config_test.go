package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "audio_jobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "audio_jobs_exchange",
			},
			Queue: BrokerQueueConfig{
				Name: "audio_jobs_queue",
			},
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Queue:         QueueConfig{Driver: QueueDriverRabbitMQ},
		ProgressCache: ProgressCacheConfig{Driver: CacheDriverRedis, TTL: time.Hour},
		Worker: WorkerConfig{
			Concurrency: 4,
			SoftTimeout: 10 * time.Minute,
			HardTimeout: 15 * time.Minute,
		},
		Scheduler: SchedulerConfig{MaxRetries: 3},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "audio_jobs_db", cfg.Database.Database)
				assert.Equal(t, "audio_jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "audio_jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.Equal(t, QueueDriverRabbitMQ, cfg.Queue.Driver)
				assert.Equal(t, CacheDriverRedis, cfg.ProgressCache.Driver)
				assert.Equal(t, time.Hour, cfg.ProgressCache.TTL)
				assert.Equal(t, 4, cfg.Worker.Concurrency)
				assert.Equal(t, 10*time.Minute, cfg.Worker.SoftTimeout)
				assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
				assert.Equal(t, "audio-processing-service", cfg.App.Name)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid memory drivers without brokers",
			mutate: func(c *Config) {
				c.Queue.Driver = QueueDriverMemory
				c.ProgressCache.Driver = CacheDriverMemory
				c.RabbitMQ = RabbitMQConfig{}
				c.Redis = RedisConfig{}
			},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host with rabbitmq driver",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "unknown queue driver",
			mutate:    func(c *Config) { c.Queue.Driver = "kafka" },
			wantErr:   true,
			errString: "unknown queue driver",
		},
		{
			name:      "empty redis host with redis driver",
			mutate:    func(c *Config) { c.Redis.Host = "" },
			wantErr:   true,
			errString: "redis host is required",
		},
		{
			name:      "unknown progress cache driver",
			mutate:    func(c *Config) { c.ProgressCache.Driver = "memcached" },
			wantErr:   true,
			errString: "unknown progress cache driver",
		},
		{
			name:      "zero worker concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name: "hard timeout not after soft timeout",
			mutate: func(c *Config) {
				c.Worker.SoftTimeout = 10 * time.Minute
				c.Worker.HardTimeout = 10 * time.Minute
			},
			wantErr:   true,
			errString: "hard_timeout must be greater than soft_timeout",
		},
		{
			name:      "negative max retries",
			mutate:    func(c *Config) { c.Scheduler.MaxRetries = -1 },
			wantErr:   true,
			errString: "max_retries must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
