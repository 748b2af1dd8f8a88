package rpc

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/majestrate/swarmwatch/lib/config"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/rpc"
	t "github.com/majestrate/swarmwatch/lib/translate"
	"github.com/majestrate/swarmwatch/lib/util"
	"github.com/majestrate/swarmwatch/lib/version"
)

var opts struct {
	Config string `short:"c" long:"config" default:"swarmwatch.ini" description:"daemon config to find the rpc address in"`
	URL    string `long:"rpc" description:"rpc url, overrides the config"`
}

func formatRate(r float64) string {
	str := util.FormatRate(r)
	for len(str) < 12 {
		str += " "
	}
	return str
}

func client() *rpc.Client {
	if opts.URL != "" {
		return rpc.NewClient(opts.URL)
	}
	cfg := new(config.Config)
	err := cfg.Load(opts.Config)
	if err != nil {
		log.Fatalf("error: %s", err)
	}
	log.SetLevel(cfg.Log.Level)
	if strings.HasPrefix(cfg.RPC.Bind, "unix:") {
		return rpc.NewClient(cfg.RPC.Bind)
	}
	u := url.URL{
		Scheme: "http",
		Host:   cfg.RPC.Bind,
	}
	return rpc.NewClient(u.String())
}

// each prints "<what> ... OK" or the error
func each(what string, args []string, fn func(string) error) error {
	if len(args) == 0 {
		return errors.New(t.T("no infohash given"))
	}
	for _, arg := range args {
		fmt.Print(t.T("%s %s ... ", what, arg))
		if err := fn(arg); err != nil {
			fmt.Println(t.E(err))
		} else {
			fmt.Println(t.T("OK"))
		}
	}
	return nil
}

type listCmd struct{}

func (listCmd) Execute([]string) error {
	c := client()
	list, err := c.ListDownloads()
	if err != nil {
		return err
	}
	var down, up float64
	for _, st := range list {
		fmt.Printf("%s [%s] %s %.2f\n", st.Name, st.ID, t.T("progress:"), st.Progress*100)
		fmt.Printf("\t%s rx=%s tx=%s %s %s\n", st.Status, formatRate(st.Download), formatRate(st.Upload), t.T("added"), time.Unix(st.Added, 0).Format(time.RFC3339))
		down += st.Download
		up += st.Upload
	}
	fmt.Println()
	fmt.Printf("%s: rx=%s tx=%s\n", t.TN("%d download", "%d downloads", len(list), len(list)), formatRate(down), formatRate(up))
	return nil
}

type bulkCmd struct {
	what string
	one  func(*rpc.Client, string) error
	all  func(*rpc.Client) (int, error)
}

func (b *bulkCmd) Execute(args []string) error {
	c := client()
	if len(args) == 1 && args[0] == "all" {
		n, err := b.all(c)
		if err != nil {
			return err
		}
		fmt.Println(t.TN("%d download", "%d downloads", n, n))
		return nil
	}
	return each(b.what, args, func(ih string) error { return b.one(c, ih) })
}

type speedCmd struct{}

func (speedCmd) Execute([]string) error {
	speed, err := client().SpeedInfo()
	if err == nil {
		fmt.Printf("rx=%s tx=%s\n", formatRate(speed.Down), formatRate(speed.Up))
	}
	return err
}

type checkCmd struct{}

func (checkCmd) Execute(args []string) error {
	c := client()
	return each(t.T("check"), args, c.CheckTorrent)
}

type healthCmd struct{}

func (healthCmd) Execute(args []string) error {
	c := client()
	if len(args) == 0 {
		return errors.New(t.T("no infohash given"))
	}
	for _, ih := range args {
		h, err := c.TorrentHealth(ih)
		if err != nil {
			fmt.Printf("%s: %s\n", ih, t.E(err))
			continue
		}
		fmt.Printf("%s [%s] %s\n", h.Name, h.ID, h.Status)
		fmt.Printf("\t%s=%d %s=%d\n", t.T("seeders"), h.Seeders, t.T("leechers"), h.Leechers)
		if h.LastCheck > 0 {
			fmt.Printf("\t%s %s\n", t.T("last checked"), time.Unix(h.LastCheck, 0).Format(time.RFC3339))
		}
	}
	return nil
}

type feedCmd struct {
	Key    string `short:"k" long:"key" default:"default" description:"subscription key"`
	method string
}

func (f *feedCmd) Execute(args []string) error {
	c := client()
	switch f.method {
	case rpc.MethodListFeeds:
		feeds, err := c.ListFeeds(f.Key)
		if err != nil {
			return err
		}
		for _, u := range feeds {
			fmt.Println(u)
		}
		return nil
	case rpc.MethodSubscribeFeed:
		return each(t.T("subscribe"), args, func(u string) error { return c.SubscribeFeed(f.Key, u) })
	default:
		return each(t.T("unsubscribe"), args, func(u string) error { return c.UnsubscribeFeed(f.Key, u) })
	}
}

type versionCmd struct{}

func (versionCmd) Execute([]string) error {
	fmt.Println(version.Version())
	return nil
}

// Run runs swarmwatch-cli main function
func Run() {
	p := flags.NewParser(&opts, flags.Default)
	add := func(name, short string, cmd interface{}) {
		if _, err := p.AddCommand(name, t.T(short), "", cmd); err != nil {
			panic(err)
		}
	}
	add("list", "list downloads", &listCmd{})
	add("pause", "pause downloads by infohash or all", &bulkCmd{
		what: t.T("pause"),
		one:  (*rpc.Client).PauseDownload,
		all:  (*rpc.Client).PauseAll,
	})
	add("resume", "resume downloads by infohash or all", &bulkCmd{
		what: t.T("resume"),
		one:  (*rpc.Client).ResumeDownload,
		all:  (*rpc.Client).ResumeAll,
	})
	add("remove", "remove downloads by infohash or all", &bulkCmd{
		what: t.T("remove"),
		one:  (*rpc.Client).RemoveDownload,
		all:  (*rpc.Client).RemoveAll,
	})
	add("speed", "show total transfer rates", &speedCmd{})
	add("check", "queue torrents for a tracker check", &checkCmd{})
	add("health", "show torrent health", &healthCmd{})
	add("feeds", "list subscribed feeds", &feedCmd{method: rpc.MethodListFeeds})
	add("subscribe", "subscribe to feed urls", &feedCmd{method: rpc.MethodSubscribeFeed})
	add("unsubscribe", "unsubscribe from feed urls", &feedCmd{method: rpc.MethodUnsubscribeFeed})
	add("version", "print version", &versionCmd{})
	if _, err := p.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		if !errors.As(err, &ferr) {
			log.Errorf("%s", t.E(err))
		}
		os.Exit(1)
	}
}
