package swarmwatch

import (
	"context"
	"crypto/sha1"
	"errors"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/config"
	"github.com/majestrate/swarmwatch/lib/downloads"
	"github.com/majestrate/swarmwatch/lib/feed"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/metainfo"
	"github.com/majestrate/swarmwatch/lib/overlay"
	"github.com/majestrate/swarmwatch/lib/popularity"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/rpc"
	"github.com/majestrate/swarmwatch/lib/search"
	t "github.com/majestrate/swarmwatch/lib/translate"
	"github.com/majestrate/swarmwatch/lib/tracker/checker"
	"github.com/majestrate/swarmwatch/lib/ttq"
	"github.com/majestrate/swarmwatch/lib/util"
	"github.com/majestrate/swarmwatch/lib/version"
)

type options struct {
	GenConf string `long:"genconf" value-name:"FILE" description:"write a default config to FILE and exit"`
	Args    struct {
		Config string `positional-arg-name:"config.ini"`
	} `positional-args:"yes"`
}

// services is everything the daemon runs
type services struct {
	conf      *config.Config
	store     *repo.Repository
	downloads *downloads.Registry
	checker   *checker.Engine
	feeds     *feed.Worker
	search    *search.Manager
	tq        *ttq.Queue
	endpoint  *overlay.Endpoint
	community *popularity.Community
}

// Run runs the swarmwatch daemon main function
func Run() {
	var opts options
	p := flags.NewParser(&opts, flags.Default)
	p.Usage = "[OPTIONS] [config.ini]"
	if _, err := p.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	conf := new(config.Config)
	if opts.GenConf != "" {
		conf.Load("")
		if err := conf.Save(opts.GenConf); err != nil {
			log.Errorf("failed to save config: %s", err)
		}
		return
	}
	fname := opts.Args.Config
	if fname == "" {
		fname = config.DefaultFile
	}

	log.Info(t.T("starting %s", version.Version()))
	if !util.CheckFile(fname) {
		conf.Load("")
		if err := conf.Save(fname); err != nil {
			log.Errorf("failed to save initial config: %s", err)
			return
		}
		log.Info(t.T("auto-generated new config at %s", fname))
	}
	if err := conf.Load(fname); err != nil {
		log.Errorf("failed to config %s", err)
		return
	}
	log.Info(t.T("loaded config %s", fname))
	log.SetLevel(conf.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, conf); err != nil {
		log.Errorf("%s", t.E(err))
		os.Exit(1)
	}
	log.Info(t.T("exited"))
}

func run(ctx context.Context, conf *config.Config) (err error) {
	if err = util.EnsureDir(conf.Storage.Root); err != nil {
		return
	}
	blobs := conf.Storage.TorrentStore()
	if err = blobs.Open(); err != nil {
		return
	}
	defer blobs.Close()

	s := &services{conf: conf, tq: ttq.New("search")}
	s.store, err = repo.Open(conf.Storage.Database, blobs, conf.Storage.Torrents)
	if err != nil {
		return
	}
	defer s.store.Close()

	s.downloads = downloads.New()
	if util.CheckFile(conf.Storage.Downloads) {
		if err = s.downloads.Load(conf.Storage.Downloads); err != nil {
			log.Warnf("could not load saved downloads: %s", err)
		}
	}

	if conf.Tracker.Enabled {
		cache := conf.Tracker.InfoCache(conf.Storage.TrackerCache)
		cache.Load()
		s.checker = checker.New(conf.Tracker.ToEngineConfig(), s.store, cache)
	}
	s.search = search.NewManager(conf.Search.ToManagerConfig(), s.store, nil, s.tq)

	if conf.Popularity.Enabled {
		s.endpoint, err = overlay.Listen(conf.Popularity.Bind, conf.Popularity.ToOverlayConfig())
		if err != nil {
			return
		}
		for _, b := range conf.Popularity.Bootstrap {
			if e := s.endpoint.AddBootstrap(b.Addr, b.Trust); e != nil {
				log.Warnf("bad bootstrap peer %s: %s", b.Addr, e)
			}
		}
		s.community = popularity.New(s.endpoint, s.store)
		s.endpoint.SetHandler(s.community.HandlePacket)
		s.search.SetRemote(s.community)
		log.Infof("overlay bound at %s", s.endpoint.LocalAddr())
	}

	if conf.Feeds.Enabled {
		if err = util.EnsureDir(conf.Feeds.Dir); err != nil {
			return
		}
		s.feeds = feed.New(conf.Feeds.ToWorkerConfig(), s.store)
		s.feeds.Load()
		for _, key := range conf.Feeds.Keys {
			s.feeds.RegisterCallback(key, s.ingested)
		}
	}

	var rpcl net.Listener
	var host string
	if conf.RPC.Enabled {
		rpcl, host, err = listenRPC(conf.RPC)
		if err != nil {
			log.Errorf("failed to bind rpc: %s", err)
			if s.endpoint != nil {
				s.endpoint.Close()
			}
			return
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if conf.Log.Pprof {
		servePprof(ctx, g)
	}
	go s.tq.Run()
	g.Go(func() error {
		<-ctx.Done()
		s.tq.Drain()
		s.tq.Wait()
		return nil
	})
	g.Go(func() error {
		err := s.downloads.Run(ctx)
		if e := s.downloads.Save(conf.Storage.Downloads); e != nil {
			log.Errorf("failed to save downloads: %s", e)
		}
		return err
	})
	if s.checker != nil {
		g.Go(func() error { return s.checker.Run(ctx) })
	}
	if s.feeds != nil {
		g.Go(func() error { return s.feeds.Run(ctx) })
	}
	if s.endpoint != nil {
		s.community.Start()
		g.Go(func() error {
			err := s.endpoint.Run(ctx)
			s.endpoint.Wait()
			return err
		})
	}
	if rpcl != nil {
		s.serveRPC(ctx, g, rpcl, host)
	}
	return g.Wait()
}

func (s *services) backend() *rpc.Backend {
	b := &rpc.Backend{
		Downloads: s.downloads,
		Torrents:  s.store,
	}
	if s.checker != nil {
		b.Checker = s.checker
	}
	if s.feeds != nil {
		b.Feeds = s.feeds
	}
	return b
}

func listenRPC(conf config.RPCConfig) (l net.Listener, host string, err error) {
	if strings.HasPrefix(conf.Bind, "unix:") {
		sock := conf.Bind[5:]
		l, err = net.Listen("unix", sock)
		if err == nil {
			err = os.Chmod(sock, 0640)
		}
		return
	}
	l, err = net.Listen("tcp", conf.Bind)
	host = conf.ExpectedHost
	return
}

func (s *services) serveRPC(ctx context.Context, g *errgroup.Group, l net.Listener, host string) {
	log.Infof("RPC enabled at %s", s.conf.RPC.Bind)
	serv := &http.Server{
		Handler:           rpc.NewServer(s.backend(), s.search, host),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		err := serv.Serve(l)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return serv.Shutdown(sctx)
	})
}

func servePprof(ctx context.Context, g *errgroup.Group) {
	pprofaddr := "127.0.0.1:6060"
	l, err := net.Listen("tcp", pprofaddr)
	if err != nil {
		log.Warnf("pprof not started: %s", err)
		return
	}
	log.Infof("spawning pprof at %s", pprofaddr)
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go func() {
		log.Warnf("pprof exited: %s", http.Serve(l, nil))
	}()
}

// ingested runs on the feed worker for every new torrent
func (s *services) ingested(key string, tf *metainfo.TorrentFile, extra feed.Extra) {
	ih := tf.Infohash()
	if s.checker != nil && !s.checker.AddRequest(ih) {
		log.Debugf("check queue full, %s waits for a sweep", ih.Hex())
	}
	if s.conf.Feeds.AutoDownload && s.downloads.Add(ih, tf.Name(), tf.TotalSize()) {
		log.Infof("auto download %s from %s", tf.Name(), extra.Feed)
	}
	s.updateFeedChannel(key, ih)
}

// each subscription key is published as a channel named after the key
func (s *services) updateFeedChannel(key string, ih common.Infohash) {
	id := sha1.Sum([]byte("feed:" + key))
	ch := repo.ChannelRecord{ID: id[:], Name: key}
	if old, err := s.store.GetChannel(id[:]); err == nil {
		ch = *old
	}
	ch.Torrents++
	if tr, err := s.store.GetTorrent(ih); err == nil {
		ch.SwarmSize += tr.Seeders + tr.Leechers
	}
	ts := time.Now().Unix()
	if ts <= ch.Timestamp {
		ts = ch.Timestamp + 1
	}
	ch.Timestamp = ts
	if _, err := s.store.UpdateChannelHealth(ch); err != nil {
		log.Errorf("failed to update channel %s: %s", key, err)
		return
	}
	if s.community != nil {
		s.endpoint.Post(func() { s.community.PublishChannel(ch) })
	}
}
