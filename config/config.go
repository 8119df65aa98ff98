package config

import "time"

type Configuration struct {
	// Server config
	Server struct {
		UseSSL    bool   `yaml:"ssl" envconfig:"ssl"`
		Port      int    `yaml:"port" envconfig:"port"`
		RedisPort int    `yaml:"redis_port" envconfig:"redis_port"`
		RedisHost string `yaml:"redis_host" envconfig:"redis_host"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level" envconfig:"level"`
		File  string `yaml:"file" envconfig:"file"` // empty: stdout only
	} `yaml:"log"`
	// attestation service (Circle Iris compatible)
	Attestation struct {
		BaseURL           string        `yaml:"base_url" envconfig:"base_url"`
		Timeout           time.Duration `yaml:"timeout" envconfig:"timeout"`
		BreakerFailures   uint32        `yaml:"breaker_failures" envconfig:"breaker_failures"`
		RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"requests_per_second"`
	} `yaml:"attestation"`
	Tracker struct {
		RetryableCreationTimeout time.Duration `yaml:"retryable_creation_timeout" envconfig:"retryable_creation_timeout"`
		PollInterval             time.Duration `yaml:"poll_interval" envconfig:"poll_interval"`
		RPCTimeout               time.Duration `yaml:"rpc_timeout" envconfig:"rpc_timeout"`
		ViewingChainID           int64         `yaml:"viewing_chain_id" envconfig:"viewing_chain_id"`
	} `yaml:"tracker"`
	Limiter struct {
		MaxConcurrent int `yaml:"max_concurrent" envconfig:"max_concurrent"`
	} `yaml:"limiter"`
	// overrides/additions to EVMChains
	Chains []ChainConfig `yaml:"chains" ignored:"true"`
}

var Config Configuration

const (
	DefaultPort                     = 8080
	DefaultRedisHost                = "127.0.0.1"
	DefaultRedisPort                = 6379
	DefaultAttestationURL           = "https://iris-api-sandbox.circle.com"
	DefaultAttestationTimeout       = 10 * time.Second
	DefaultBreakerFailures          = 5
	DefaultRequestsPerSecond        = 35
	DefaultRetryableCreationTimeout = 15 * time.Minute
	DefaultPollInterval             = 30 * time.Second
	DefaultRPCTimeout               = 10 * time.Second
	DefaultMaxConcurrent            = 10
)

// EVM-chains configs
type ChainConfig struct {
	Name    string   `yaml:"name"`
	ChainID int64    `yaml:"id"`
	RPCList []string `yaml:"rpcs"`
}

var EVMChains = map[int64]ChainConfig{
	1: {
		Name:    "Ethereum",
		ChainID: 1,
		RPCList: []string{"https://eth.drpc.org", "https://eth.llamarpc.com"},
	},
	42161: {
		Name:    "Arbitrum",
		ChainID: 42161,
		RPCList: []string{"https://arb1.arbitrum.io/rpc", "https://arbitrum.llamarpc.com"},
	},
	11155111: {
		Name:    "Sepolia",
		ChainID: 11155111,
		RPCList: []string{"https://ethereum-sepolia-rpc.publicnode.com"},
	},
	421614: {
		Name:    "Arbitrum Sepolia",
		ChainID: 421614,
		RPCList: []string{"https://sepolia-rollup.arbitrum.io/rpc"},
	},
	13746: {
		Name:    "Game7 Testnet",
		ChainID: 13746,
		RPCList: []string{"https://rpc-game7-testnet-0ilneybprf.t.conduit.xyz"},
	},
}

// ChainTable merges the configured chains over the built-in EVMChains table.
func (c *Configuration) ChainTable() map[int64]ChainConfig {
	chains := make(map[int64]ChainConfig, len(EVMChains)+len(c.Chains))
	for id, chain := range EVMChains {
		chains[id] = chain
	}
	for _, chain := range c.Chains {
		if existing, ok := chains[chain.ChainID]; ok && len(chain.RPCList) == 0 {
			chain.RPCList = existing.RPCList
		}
		chains[chain.ChainID] = chain
	}
	return chains
}

func (c *Configuration) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = DefaultRedisHost
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = DefaultRedisPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Attestation.BaseURL == "" {
		c.Attestation.BaseURL = DefaultAttestationURL
	}
	if c.Attestation.Timeout <= 0 {
		c.Attestation.Timeout = DefaultAttestationTimeout
	}
	if c.Attestation.BreakerFailures == 0 {
		c.Attestation.BreakerFailures = DefaultBreakerFailures
	}
	if c.Attestation.RequestsPerSecond <= 0 {
		c.Attestation.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Tracker.RetryableCreationTimeout <= 0 {
		c.Tracker.RetryableCreationTimeout = DefaultRetryableCreationTimeout
	}
	if c.Tracker.PollInterval <= 0 {
		c.Tracker.PollInterval = DefaultPollInterval
	}
	if c.Tracker.RPCTimeout <= 0 {
		c.Tracker.RPCTimeout = DefaultRPCTimeout
	}
	if c.Limiter.MaxConcurrent <= 0 {
		c.Limiter.MaxConcurrent = DefaultMaxConcurrent
	}
}
