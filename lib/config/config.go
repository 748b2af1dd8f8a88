package config

import (
	"fmt"
	"os"
	"time"

	"github.com/majestrate/swarmwatch/lib/configparser"
)

// DefaultFile is the config file used when none is given
const DefaultFile = "swarmwatch.ini"

type Config struct {
	Log        LogConfig
	Storage    StorageConfig
	Tracker    TrackerConfig
	Feeds      FeedsConfig
	Search     SearchConfig
	Popularity PopularityConfig
	RPC        RPCConfig
}

// Configurable interface for entity serializable to/from config parser section
type Configurable interface {
	Load(s *configparser.Section) error
	Save(c *configparser.Section) error
	LoadEnv()
}

// section order in saved files
var sectionNames = []string{"log", "storage", "tracker", "feeds", "search", "popularity", "rpc"}

func (cfg *Config) sections() map[string]Configurable {
	return map[string]Configurable{
		"log":        &cfg.Log,
		"storage":    &cfg.Storage,
		"tracker":    &cfg.Tracker,
		"feeds":      &cfg.Feeds,
		"search":     &cfg.Search,
		"popularity": &cfg.Popularity,
		"rpc":        &cfg.RPC,
	}
}

// Load loads a config from file by filename, a missing file gives defaults
func (cfg *Config) Load(fname string) (err error) {
	sects := cfg.sections()
	var c *configparser.Configuration
	if fname != "" {
		c, err = configparser.Read(fname)
		if os.IsNotExist(err) {
			c, err = nil, nil
		}
		if err != nil {
			return
		}
	}
	for _, sect := range sectionNames {
		conf := sects[sect]
		if c == nil {
			err = conf.Load(nil)
		} else {
			s, _ := c.Section(sect)
			err = conf.Load(s)
		}
		conf.LoadEnv()
		if err != nil {
			return fmt.Errorf("section %s: %w", sect, err)
		}
	}
	return
}

// Save saves a loaded config to file by filename
func (cfg *Config) Save(fname string) (err error) {
	sects := cfg.sections()
	c := configparser.NewConfiguration()
	for _, sect := range sectionNames {
		s := c.NewSection(sect)
		err = sects[sect].Save(s)
		if err != nil {
			return
		}
	}
	err = configparser.Save(c, fname)
	return
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func durationString(d time.Duration) string {
	return d.String()
}
