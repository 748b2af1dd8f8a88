package config

import (
	"os"

	"github.com/majestrate/swarmwatch/lib/configparser"
	"github.com/majestrate/swarmwatch/lib/log"
)

const EnvLogLevel = "SWARMWATCH_LOG_LEVEL"
const EnvLogPProf = "SWARMWATCH_PPROF"

type LogConfig struct {
	Level string
	Pprof bool
}

func (cfg *LogConfig) Load(s *configparser.Section) error {
	cfg.Level = s.Get("level", "info")
	cfg.Pprof = s.GetBool("pprof", false)
	return log.ValidLevel(cfg.Level)
}

func (cfg *LogConfig) Save(s *configparser.Section) error {
	s.Add("level", cfg.Level)
	s.Add("pprof", boolString(cfg.Pprof))
	return nil
}

func (cfg *LogConfig) LoadEnv() {
	lvl := os.Getenv(EnvLogLevel)
	if lvl != "" && log.ValidLevel(lvl) == nil {
		cfg.Level = lvl
	}
	lvl = os.Getenv(EnvLogPProf)
	if lvl != "" {
		cfg.Pprof = lvl == "1"
	}
}
