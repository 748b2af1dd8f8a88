package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/configparser"
	"github.com/majestrate/swarmwatch/lib/overlay"
)

const EnvPopularityBind = "SWARMWATCH_OVERLAY_ADDRESS"

const DefaultOverlayAddr = "0.0.0.0:7761"

// Bootstrap is a peer we always gossip with
type Bootstrap struct {
	Addr  string
	Trust float64
}

func (b Bootstrap) String() string {
	return b.Addr + "=" + strconv.FormatFloat(b.Trust, 'f', -1, 64)
}

// ParseBootstrap parses a comma separated list of host:port=trust, a
// missing trust means 1
func ParseBootstrap(str string) (l []Bootstrap, err error) {
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b := Bootstrap{Addr: part, Trust: 1}
		idx := strings.LastIndex(part, "=")
		if idx >= 0 {
			b.Addr = strings.TrimSpace(part[:idx])
			b.Trust, err = strconv.ParseFloat(strings.TrimSpace(part[idx+1:]), 64)
			if err != nil {
				return nil, fmt.Errorf("bad bootstrap trust %q: %w", part, err)
			}
		}
		if b.Addr == "" {
			return nil, fmt.Errorf("bad bootstrap %q", part)
		}
		l = append(l, b)
	}
	return
}

type PopularityConfig struct {
	Enabled     bool
	Bind        string
	Bootstrap   []Bootstrap
	PeerTimeout time.Duration
}

func (cfg *PopularityConfig) Load(s *configparser.Section) (err error) {
	cfg.Enabled = s.GetBool("enabled", true)
	cfg.Bind = s.Get("bind", DefaultOverlayAddr)
	cfg.PeerTimeout = s.GetDuration("peer_timeout", overlay.DefaultPeerTimeout)
	cfg.Bootstrap, err = ParseBootstrap(s.Get("bootstrap", ""))
	return
}

func (cfg *PopularityConfig) Save(s *configparser.Section) error {
	s.Add("enabled", boolString(cfg.Enabled))
	s.Add("bind", cfg.Bind)
	s.Add("peer_timeout", durationString(cfg.PeerTimeout))
	var l []string
	for _, b := range cfg.Bootstrap {
		l = append(l, b.String())
	}
	s.Add("bootstrap", strings.Join(l, ","))
	return nil
}

func (cfg *PopularityConfig) LoadEnv() {
	addr := os.Getenv(EnvPopularityBind)
	if addr != "" {
		cfg.Bind = addr
	}
}

func (cfg *PopularityConfig) ToOverlayConfig() overlay.Config {
	return overlay.Config{
		PeerTimeout: cfg.PeerTimeout,
	}
}
