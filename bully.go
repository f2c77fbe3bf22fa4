package bully

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// NodeTimers gathers the timing knobs of the protocol. All of them are
// supplied at process start; there is no runtime reconfiguration.
type NodeTimers struct {
	// StartupDelay staggers process launches so a cluster booted in one go
	// does not fire all first elections in the same instant. Optional.
	StartupDelay time.Duration
	// ElectionTimeout is how long a node in election waits for evidence of a
	// higher ranked peer before declaring itself master.
	ElectionTimeout time.Duration
	// HeartbeatInterval is the period of slave->master heartbeats, and of the
	// master's roster sweep.
	HeartbeatInterval time.Duration
	// MasterLivenessTimeout is how long a slave tolerates silence from its
	// master before triggering a fresh election.
	MasterLivenessTimeout time.Duration
	// SlaveLivenessTimeout is how long the master tolerates silence from a
	// slave before marking it absent and recoloring around it.
	SlaveLivenessTimeout time.Duration
	// RPCTimeout bounds every single outbound send to a peer.
	RPCTimeout time.Duration
}

// NodeConfig is configuration for the local node. Package expects
// configuration to be passed in when starting up the node using MakeNode.
type NodeConfig struct {
	// Cluster node addresses in the form address:port, including the local
	// one. All nodes can share the same configuration; the position of an
	// address in this slice is the node's ordinal ID, and the node with the
	// highest live ID wins elections.
	Nodes []string
	//
	// Pass in method which provides dial options to use when connecting as
	// gRPC client with other nodes as servers. Exposing this configuration
	// allows the application to determine whether, for example, to use TLS in
	// peer exchanges. The callback passes in the local and remote addresses
	// for which we are setting up the client connection.
	ClientDialOptionsFn func(local, remote string) []grpc.DialOption
	// Pass in method which provides server side grpc options. These will be
	// merged in with default options, with default options overridden if
	// provided in configuration.
	ServerOptionsFn func(local string) []grpc.ServerOption
	//
	// Protocol timers; zero values are replaced with defaults mirroring the
	// reference deployment (10s election, 5s heartbeat, 15s liveness).
	Timers NodeTimers
	//
	// Channel depths, if not set will default to sensible values.
	ChannelDepth struct {
		ServerEvents int32
		ClientEvents int32
	}
}

// NewNodeConfig returns a NodeConfig structure initialised with sensible
// defaults where possible. Caller will need to set up Nodes as a minimum
// before using NodeConfig in MakeNode.
func NewNodeConfig() NodeConfig {

	nc := NodeConfig{}
	nc.Timers = defaultTimers()

	return nc
}

const mIN_NODES_IN_CLUSTER = 2

func defaultTimers() NodeTimers {
	return NodeTimers{
		ElectionTimeout:       10 * time.Second,
		HeartbeatInterval:     5 * time.Second,
		MasterLivenessTimeout: 15 * time.Second,
		SlaveLivenessTimeout:  15 * time.Second,
		RPCTimeout:            3 * time.Second,
	}
}

// NodeConfig.validate: provides validation function for the configuration
// presented by user. Defaults are also set if necessary.
func (cfg *NodeConfig) validate() error {

	if len(cfg.Nodes) < mIN_NODES_IN_CLUSTER {
		return bullyErrorf(
			ErrMissingNodeConfig,
			"not enough endpoints specified in Nodes %s, expect at least %d "+
				"e.g. 'n1.example.com:443','n2.example.com:443'",
			cfg.Nodes, mIN_NODES_IN_CLUSTER)
	}

	if cfg.ClientDialOptionsFn == nil {
		return bullyErrorf(
			ErrMissingNodeConfig,
			"no dial options method is provided in ClientDialOptionsFn, either TLS or grpc.WithInsecure() "+
				"option must be provided. Package does NOT default to insecure unless explicitly requested by application")
	}

	def := defaultTimers()
	if cfg.Timers.ElectionTimeout == 0 {
		cfg.Timers.ElectionTimeout = def.ElectionTimeout
	}
	if cfg.Timers.HeartbeatInterval == 0 {
		cfg.Timers.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Timers.MasterLivenessTimeout == 0 {
		cfg.Timers.MasterLivenessTimeout = def.MasterLivenessTimeout
	}
	if cfg.Timers.SlaveLivenessTimeout == 0 {
		cfg.Timers.SlaveLivenessTimeout = def.SlaveLivenessTimeout
	}
	if cfg.Timers.RPCTimeout == 0 {
		cfg.Timers.RPCTimeout = def.RPCTimeout
	}

	if cfg.ChannelDepth.ClientEvents == 0 {
		cfg.ChannelDepth.ClientEvents = 32
	}

	if cfg.ChannelDepth.ServerEvents == 0 {
		cfg.ChannelDepth.ServerEvents = 32
	}

	return nil
}

// Node tracks the state and configuration of this local node. Public access
// to services provided by Node are concurrency safe; the engine goroutine
// owns all mutable protocol state and publishes read-only copies.
type Node struct {
	// Readonly state provided when the Node is created.
	config *NodeConfig
	// Ordinal ID of the local node; its index into config.Nodes. Immutable.
	index int32
	// Server and client side state for messaging (independent of role).
	// Messaging is largely in bully_grpc.go.
	messaging *bullyMessaging
	// The protocol engine; see bully_engine.go.
	engine *bullyEngine
	// fatalErrorFeedback feeds back fatal errors to the client.
	// Do not push into channel directly; use signalFatalError().
	fatalErrorFeedback chan error
	// We also remember we have taken a fatal error, in order to avoid a
	// graceful shutdown attempt.
	fatalErrorCount *atomic.Int32
	// Track rootCancel function used to clean up autonomously on fatal errors.
	cancel context.CancelFunc
	// metrics structure associated with this node.
	metrics *metricsHolder
	// logger for Node, configurable through WithLogger option.
	logger *zap.SugaredLogger
	// Redirect underlying grpc middleware logging to zap. Noisy; off unless
	// in-depth transport troubleshooting is needed.
	verboseLogging bool
}

// FatalErrorChannel returns an error channel which is used by the Node to
// signal an unrecoverable failure asynchronously to the application. Such
// errors are expected to occur with vanishingly small probability; peer
// failures never land here. An example of such an error would be dial or
// server options which make it impossible for the client to connect with the
// server. When a fatal error is registered, the package stops operating and
// marks the root wait group done.
func (n *Node) FatalErrorChannel() chan error {
	return n.fatalErrorFeedback
}

// ID returns the ordinal ID of the local node.
func (n *Node) ID() int32 {
	return n.index
}

// State returns the node's current election state.
func (n *Node) State() NodeState {
	return n.engine.publishedState()
}

// MasterID returns the ID of the node currently believed to be master, or
// NoMaster if an election is in flight. It refers to the local node itself
// when the local node is master.
func (n *Node) MasterID() int32 {
	return n.engine.currentMaster.Load()
}

// CurrentColor returns the color most recently applied to the local node.
func (n *Node) CurrentColor() Color {
	return n.engine.publishedColor()
}

// Roster returns a copy-on-read snapshot of the peer roster: which peers are
// known, whether they are within the liveness window, and their colors.
func (n *Node) Roster() []RosterEntry {
	return n.engine.publishedRoster()
}

func (n *Node) logKV() []interface{} {

	kv := []interface{}{"obj", "Node", "localNodeIndex", n.index}

	if n.messaging != nil && n.messaging.server != nil {
		kv = append(kv, n.messaging.server.logKV()...)
	}

	if n.messaging != nil {
		kv = append(kv, "clients", len(n.messaging.clients))
	}

	kv = append(kv, "fatalErrorCount", n.fatalErrorCount.Load())

	return kv
}

// signalFatalError allows package to indicate fatal error to user. This will
// typically be followed by the client shutting down by cancelling context.
// If the buffered channel is full, we would just skip asking yet again.
func (n *Node) signalFatalError(err error) {

	n.fatalErrorCount.Inc()

	select {
	case n.fatalErrorFeedback <- err:
		n.logger.Errorw("bully, signalling fatal error", bullyErrKeyword, err.Error())
		n.cancel()
	default:
		// If pushing to fatalErrorFeedback would block, then we don't bother.
		// Because we are using a buffered channel, if we get here it means
		// that the channel is busy already - one fatal error is as good as
		// many.
		n.logger.Errorw("bully, skipped signalling fatal error, signalled already", bullyErrKeyword, err.Error())
	}
}

// NodeOption operator, operates on node to manage configuration.
type NodeOption func(*Node) error

// WithLogger option is invoked by the application to provide a customised
// zap logger option, or to disable logging. The NodeOption returned by
// WithLogger is passed in to MakeNode to control logging; e.g. to provide a
// preconfigured application logger. If logger passed in is nil, the package
// will disable logging.
//
// If WithLogger generated NodeOption is not passed in, package uses its own
// configured zap logger.
//
// grpcLogToZap controls whether the package redirects underlying grpc
// middleware logging to the zap log. This is noisy, and unless in depth gRPC
// troubleshooting is required, grpcLogToZap should be set to false.
func WithLogger(logger *zap.Logger, grpcLogToZap bool) NodeOption {
	return func(n *Node) error {
		if logger != nil {
			n.logger = logger.Sugar()
		} else {
			n.logger = zap.NewNop().Sugar()
		}
		n.verboseLogging = grpcLogToZap

		return nil
	}
}

// WithMetrics option used with MakeNode to specify the metrics registry we
// should count in. Detailed indicates whether detailed (and more expensive)
// metrics are tracked (e.g. grpc latency distribution). If nil is passed in
// for the registry, the default registry prometheus.DefaultRegisterer is
// used. Do note that the package does not set up serving metrics; that is up
// to the application.
func WithMetrics(registry *prometheus.Registry, namespace string, detailed bool) NodeOption {
	return func(n *Node) error {
		n.metrics = initMetrics(registry, namespace, detailed, n.index)
		return nil
	}
}

// MakeNode starts the local cluster node according to the configuration
// provided. localIndex is the position of the local node in cfg.Nodes and
// doubles as its ordinal ID for the election protocol.
//
// Node is returned, and public methods associated with Node can be used to
// inspect it from multiple goroutines: election state, current master, own
// color and the roster snapshot. There are no mutation entry points beyond
// the peer message set itself.
//
// Context can be cancelled to signal exit. WaitGroup wg should have 1 added
// to it prior to calling MakeNode and should be waited on by the caller
// before exiting following cancellation. Whether MakeNode returns
// successfully or not, WaitGroup will be marked Done() by the time the Node
// has cleaned up.
//
// If a fatal error is encountered at any point after MakeNode returns, it is
// signalled over the channel returned by FatalErrorChannel(), and the
// typical reaction is for the application to cancel the context.
//
// MakeNode also accepts logging and metrics options (see WithMetrics and
// WithLogger).
func MakeNode(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg NodeConfig,
	localIndex int32,
	opts ...NodeOption) (*Node, error) {

	defer wg.Done()

	err := cfg.validate()
	if err != nil {
		// We have not initialised logging yet. We cannot log (obviously), so
		// we simply return the error and bail.
		return nil, err
	}

	if localIndex < 0 || localIndex >= int32(len(cfg.Nodes)) {
		return nil, bullyErrorf(
			ErrBadLocalNodeIndex, "localIndex %d out of bounds of %d configured nodes",
			localIndex, len(cfg.Nodes))
	}

	n := &Node{
		index:     localIndex,
		messaging: &bullyMessaging{},
		// A single fatal error is sufficient to do the job. Create buffered
		// channel of 1. This matters, because when we signal, were we to
		// block, we would skip enqueuing the signal on the basis we know at
		// least one signal is pending. And one signal would be enough.
		fatalErrorFeedback: make(chan error, 1),
		fatalErrorCount:    atomic.NewInt32(0),
	}

	for _, opt := range opts {
		err := opt(n)
		if err != nil {
			// It is too early and logging may not be setup yet. Simply return error.
			return nil, bullyErrorf(ErrBadMakeNodeOption, "applied option err [%v]", err)
		}
	}

	err = initLogging(n)
	if err != nil {
		// We failed to initialise logging. We cannot log (obviously), so we
		// simply return the error and bail.
		return nil, bullyErrorf(err, "init logging failed")
	}

	n.logger.Info("bully package, starting up (logging can be customised or disabled using WithLogger option)")

	n.config = &cfg

	err = initMessaging(ctx, n)
	if err != nil {
		return nil, err
	}

	initEngine(n)

	// We are ready to run. We allocate our own context so we can come down
	// autonomously on fatal errors as well as on owner shutdown.
	rootCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	// Kick off messaging and the engine, remembering to add to the wait
	// group. This ensures that as long as the client honours the wait group
	// (i.e. waits on it on exit), the caller will wait on the package to shut
	// down cleanly.
	wg.Add(1)

	// Use an internal workgroup we can wait on so we can clean up (e.g. flush
	// the logger) on exit.
	var rootWg sync.WaitGroup
	rootWg.Add(1)
	runMessaging(rootCtx, &rootWg, n)

	rootWg.Add(1)
	go n.engine.run(rootCtx, &rootWg)

	// Wait for owner shutdown, wait for clean shutdown, then return.
	go func() {

		select {
		case <-rootCtx.Done():
			n.logger.Info("bully package internal shutdown triggered")

		case <-ctx.Done():
			n.logger.Info("bully package owner is requesting a shutdown")
		}

		// cancel() will signal exit to all the goroutines spawned by the
		// package. These will in turn mark the wait group done and let the
		// owner eventually proceed.
		cancel()
		rootWg.Wait()
		// flush the logger to make sure we get all the logs
		n.logger.Sync()
		wg.Done()
	}()

	return n, nil
}

// DefaultZapLoggerConfig provides a production logger configuration (logs
// Info and above, JSON to stderr, with stacktrace, caller and sampling
// disabled) which can be customised by application to produce its own logger
// based on this configuration. Any logger provided by the application will
// also have its name extended by the package to clearly identify that the
// log message comes from here; e.g. an application log named "foo" produces
// package logs labelled "foo.bully".
func DefaultZapLoggerConfig() zap.Config {

	lcfg := zap.NewProductionConfig()
	lcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lcfg.DisableStacktrace = false
	lcfg.DisableCaller = true
	lcfg.Sampling = nil

	return lcfg
}

// initLogging ensures that n.logger points at something even if it is
// pointing to a noop logger. By default, we log to an opinionated
// pre-configured log. The WithLogger option can override configuration or
// disable logging completely.
func initLogging(n *Node) error {

	if n.logger == nil {
		logger, err := DefaultZapLoggerConfig().Build()
		if err != nil {
			return bullyErrorf(err, "failed to set up logging")
		}
		n.logger = logger.Sugar()
	}

	// We must, absolutely must, never return without a logger and without an
	// error.
	if n.logger == nil {
		return bullyErrorf(
			ErrMissingLogger, "tried to set up a logger, but failed, zap did not indicate why")
	}

	// Set logger name. This will end up being concatenated to any preexisting
	// log name.
	n.logger = n.logger.Named("bully")

	return nil
}
