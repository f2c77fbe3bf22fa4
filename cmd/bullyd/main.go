// Command bullyd runs one cluster node: it joins the configured cluster,
// takes part in elections and heartbeating, carries the color assigned to
// it, and exposes its view of the cluster over /healthz (plus prometheus
// metrics if enabled).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"bully"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

type daemon struct {
	// Prepared node configuration.
	nc bully.NodeConfig
	// Prepared options.
	opts []bully.NodeOption
	// Configuration file and local node index (i.e. identity in cluster,
	// 0..n-1 for a cluster of n).
	cfgFile   string
	localNode int
	// zap logging configuration knobs.
	lg    *zap.SugaredLogger
	debug bool
	// Registry shared between the bully package and promhttp; nil when
	// metrics are disabled.
	metricsReg *prometheus.Registry
}

// healthReply is the JSON shape served on /healthz.
type healthReply struct {
	ID     int32              `json:"id"`
	State  string             `json:"state"`
	Master int32              `json:"master"`
	Color  string             `json:"color"`
	Peers  []peerHealthStatus `json:"peers"`
}

type peerHealthStatus struct {
	ID    int32  `json:"id"`
	Addr  string `json:"addr"`
	Alive bool   `json:"alive"`
	Color string `json:"color"`
}

func healthHandler(node *bully.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := healthReply{
			ID:     node.ID(),
			State:  string(node.State()),
			Master: node.MasterID(),
			Color:  string(node.CurrentColor()),
		}
		for _, entry := range node.Roster() {
			reply.Peers = append(reply.Peers, peerHealthStatus{
				ID:    entry.ID,
				Addr:  entry.Address,
				Alive: entry.Alive,
				Color: string(entry.Color),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}
}

// configure processes the configuration file to build the NodeConfig and the
// options we pass down to the bully package.
func (d *daemon) configure(lcfg zap.Config, cfg *bullydConfig) error {

	if d.debug {
		lcfg.Level.SetLevel(zapcore.DebugLevel)
	}
	if cfg.Logging.Encoding != "" {
		lcfg.Encoding = cfg.Logging.Encoding
	}
	if cfg.Logging.File != "" {
		lcfg.OutputPaths = []string{cfg.Logging.File}
	}
	if !d.debug {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err == nil {
			lcfg.Level.SetLevel(level)
		}
	}

	lcfg.DisableStacktrace = true
	lg, err := lcfg.Build()
	if err != nil {
		fmt.Println("Failed to start bullyd with logger configuration failure", err)
		return err
	}
	d.lg = lg.Sugar()

	d.nc = bully.NewNodeConfig()
	d.nc.Nodes = cfg.Cluster.Nodes
	d.nc.Timers.StartupDelay = cfg.Cluster.StartupDelay
	d.nc.Timers.ElectionTimeout = cfg.Timers.ElectionTimeout
	d.nc.Timers.HeartbeatInterval = cfg.Timers.HeartbeatInterval
	d.nc.Timers.MasterLivenessTimeout = cfg.Timers.MasterLivenessTimeout
	d.nc.Timers.SlaveLivenessTimeout = cfg.Timers.SlaveLivenessTimeout
	d.nc.Timers.RPCTimeout = cfg.Timers.RPCTimeout
	// Cluster peers are trusted and co-located; swap this callback out to
	// move peer exchanges to TLS.
	d.nc.ClientDialOptionsFn = func(local, remote string) []grpc.DialOption {
		return []grpc.DialOption{grpc.WithInsecure()}
	}

	d.opts = []bully.NodeOption{bully.WithLogger(lg, false)}

	return nil
}

func (d *daemon) run(sigChan chan os.Signal, lcfg zap.Config) {

	cfg, err := loadConfig(d.cfgFile)
	if err != nil {
		fmt.Println("Failed to load bullyd configuration", err)
		os.Exit(-1)
	}

	err = d.configure(lcfg, cfg)
	if err != nil {
		os.Exit(-1)
	}

	if cfg.Metrics.Endpoint != "" {
		// Registry is shared between the package and the grpc interceptors
		// set up inside it.
		metricsReg := prometheus.NewRegistry()
		d.opts = append(d.opts, bully.WithMetrics(metricsReg, cfg.Metrics.Namespace, cfg.Metrics.Detailed))
		d.metricsReg = metricsReg
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		// any of the signals result in exit.
		d.lg.Info("bullyd received shutdown signal")
		cancel()
	}()

	wg.Add(1)
	node, err := bully.MakeNode(ctx, &wg, d.nc, int32(d.localNode), d.opts...)
	if err != nil {
		d.lg.Errorf("bullyd failed to create cluster node: %v", err)
		os.Exit(-1)
	}

	if d.metricsReg != nil {
		handler := promhttp.HandlerFor(d.metricsReg, promhttp.HandlerOpts{})
		handlerMux := http.NewServeMux()
		handlerMux.Handle(cfg.Metrics.Path, handler)
		handlerMux.Handle("/healthz", healthHandler(node))
		metricServer := &http.Server{
			Addr:    cfg.Metrics.Endpoint,
			Handler: handlerMux,
		}
		go func() {
			err := metricServer.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				d.lg.Errorf("Failed to serve metrics for bullyd, cfg: '%+v' [%+v]", cfg.Metrics, err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		d.lg.Infof("bullyd node %d running", d.localNode)

		select {
		case <-ctx.Done():
		case err = <-node.FatalErrorChannel():
			d.lg.Errorw("fatal error from cluster node", "err", err)
			cancel()
		}
	}()

	wg.Wait()
}

func main() {

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT)

	var d daemon

	flag.BoolVar(&d.debug, "debug", false, "enable debug")
	flag.StringVar(&d.cfgFile, "config", "", "specify a configuration filename (default searches for bullyd.yaml)")
	flag.IntVar(&d.localNode, "localNode", 0, "specify the localNode index")
	flag.Parse()

	d.run(sigChan, bully.DefaultZapLoggerConfig())
}
