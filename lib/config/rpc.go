package config

import (
	"os"

	"github.com/majestrate/swarmwatch/lib/configparser"
)

type RPCConfig struct {
	Enabled      bool
	Bind         string
	ExpectedHost string
}

const DefaultRPCAddr = "127.0.0.1:1776"
const DefaultRPCHost = "127.0.0.1"

func (cfg *RPCConfig) Load(s *configparser.Section) error {
	cfg.Enabled = s.GetBool("enabled", true)
	cfg.Bind = s.Get("bind", DefaultRPCAddr)
	cfg.ExpectedHost = s.Get("host", DefaultRPCHost)
	if cfg.Bind == "" {
		cfg.Bind = DefaultRPCAddr
	}
	return nil
}

func (cfg *RPCConfig) Save(s *configparser.Section) error {
	s.Add("enabled", boolString(cfg.Enabled))
	if cfg.Bind != "" {
		s.Add("bind", cfg.Bind)
	}
	if cfg.ExpectedHost != "" {
		s.Add("host", cfg.ExpectedHost)
	}
	return nil
}

const EnvRPCAddr = "SWARMWATCH_RPC_ADDRESS"
const EnvRPCHost = "SWARMWATCH_RPC_HOST"

func (cfg *RPCConfig) LoadEnv() {
	addr := os.Getenv(EnvRPCAddr)
	if addr != "" {
		cfg.Bind = addr
	}
	host := os.Getenv(EnvRPCHost)
	if host != "" {
		cfg.ExpectedHost = host
	}
}
