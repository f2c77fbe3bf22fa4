package bully

import (
	"context"
	"net"
	"sync"
	"time"

	"bully/internal/bully_pb"

	"github.com/cenkalti/backoff"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const defaultInactivityTriggeredPingSeconds = 1
const defaultTimeoutAfterPingSeconds = 1

// bullyServer implements the bully grpc service, server side. Every protocol
// RPC is terminated the same way: wrap the request in a container, post it to
// the engine, and block until the engine pushes the reply back through the
// container's return channel. The reply then rides the RPC response - this
// is what realises the protocol's paired reply messages without a second
// network leg.
type bullyServer struct {
	// Cache the parent node so we can navigate up as necessary.
	node *Node
	// The TCP listener used to register the bully server.
	localListener net.Listener
	// The addr in config.Nodes which has been claimed by this node, and
	// against which we have set up a local TCP listener.
	localAddr  string
	grpcServer *grpc.Server
}

func (s *bullyServer) Election(ctx context.Context, request *bully_pb.ElectionRequest) (
	*bully_pb.ElectionReply, error) {

	container := &electionContainer{request: request, returnChan: make(chan *electionContainer, 1)}

	select {
	case <-ctx.Done():
		return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
	case s.node.engine.inboundElectionChan <- container:
		select {
		case replyContainer := <-container.returnChan:
			return replyContainer.reply, replyContainer.err
		case <-ctx.Done():
			return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
		}
	}
}

func (s *bullyServer) Victory(ctx context.Context, request *bully_pb.VictoryRequest) (
	*bully_pb.VictoryReply, error) {

	container := &victoryContainer{request: request, returnChan: make(chan *victoryContainer, 1)}

	select {
	case <-ctx.Done():
		return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
	case s.node.engine.inboundVictoryChan <- container:
		select {
		case replyContainer := <-container.returnChan:
			return replyContainer.reply, replyContainer.err
		case <-ctx.Done():
			return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
		}
	}
}

func (s *bullyServer) Heartbeat(ctx context.Context, request *bully_pb.HeartbeatRequest) (
	*bully_pb.HeartbeatReply, error) {

	container := &heartbeatContainer{request: request, returnChan: make(chan *heartbeatContainer, 1)}

	select {
	case <-ctx.Done():
		return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
	case s.node.engine.inboundHeartbeatChan <- container:
		select {
		case replyContainer := <-container.returnChan:
			return replyContainer.reply, replyContainer.err
		case <-ctx.Done():
			return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
		}
	}
}

func (s *bullyServer) Color(ctx context.Context, request *bully_pb.ColorRequest) (
	*bully_pb.ColorReply, error) {

	container := &colorContainer{request: request, returnChan: make(chan *colorContainer, 1)}

	select {
	case <-ctx.Done():
		return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
	case s.node.engine.inboundColorChan <- container:
		select {
		case replyContainer := <-container.returnChan:
			return replyContainer.reply, replyContainer.err
		case <-ctx.Done():
			return nil, status.Errorf(codes.Aborted, "cluster node shutting down")
		}
	}
}

// Status is a read-only query and is served straight from the published
// copies of engine state; it deliberately never touches the engine goroutine
// so a wedged engine can still be diagnosed over the wire.
func (s *bullyServer) Status(ctx context.Context, request *bully_pb.StatusRequest) (
	*bully_pb.StatusReply, error) {

	n := s.node
	reply := &bully_pb.StatusReply{
		SenderId: n.index,
		State:    string(n.State()),
		MasterId: n.MasterID(),
		Color:    string(n.CurrentColor()),
	}

	for _, entry := range n.Roster() {
		var lastSeenMs int64
		if !entry.LastSeen.IsZero() {
			lastSeenMs = entry.LastSeen.UnixNano() / int64(time.Millisecond)
		}
		reply.Peers = append(reply.Peers, &bully_pb.PeerStatus{
			Id:             entry.ID,
			Address:        entry.Address,
			Alive:          entry.Alive,
			Color:          string(entry.Color),
			LastSeenUnixMs: lastSeenMs,
		})
	}

	return reply, nil
}

func (s *bullyServer) logKV() []interface{} {
	return []interface{}{"obj", "localNodeServer", "address", s.localAddr}
}

func (s *bullyServer) run(ctx context.Context, wg *sync.WaitGroup, n *Node) {
	defer wg.Done()

	// cache the node we are running for.
	s.node = n

	unaryInterceptorChain := []grpc.UnaryServerInterceptor{
		grpc_ctxtags.UnaryServerInterceptor(),
	}

	if n.verboseLogging {
		unaryInterceptorChain = append(unaryInterceptorChain,
			grpc_zap.UnaryServerInterceptor(
				n.logger.Named("GRPC_S").Desugar(),
				// All results are forced to debug level
				grpc_zap.WithLevels(func(code codes.Code) zapcore.Level { return zapcore.DebugLevel })))
	}

	if n.messaging.serverUnaryInterceptorForMetrics != nil {
		unaryInterceptorChain = append(unaryInterceptorChain, n.messaging.serverUnaryInterceptorForMetrics)
	}

	// Setup the default server options, all of which can be overwritten.
	// Default server side options are aggressive and assume good connectivity
	// between cluster nodes. These options can be overridden in MakeNode
	// configuration.
	options := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(100), // aggressive max concurrent stream per transport
		grpc.KeepaliveParams(keepalive.ServerParameters{ // similarly aggressive attempt to track connection liveness
			Time:    time.Second * defaultInactivityTriggeredPingSeconds,
			Timeout: time.Second * defaultTimeoutAfterPingSeconds,
		}),
		// control how often a client can send a keepalive, and whether to
		// allow keepalives with no streams.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Second * 2,
			PermitWithoutStream: true,
		}),
		grpc_middleware.WithUnaryServerChain(unaryInterceptorChain...),
	}

	//
	// Append configured options so they can overwrite the defaults too.
	if n.config.ServerOptionsFn != nil {
		options = append(options, n.config.ServerOptionsFn(s.localAddr)...)
	}

	s.grpcServer = grpc.NewServer(options...)
	bully_pb.RegisterBullyServiceServer(s.grpcServer, s)

	n.logger.Debugw("gRPCServer starting up", s.logKV()...)

	go func() {
		<-ctx.Done()
		n.logger.Debugw("gRPCServer graceful shut down requested", s.logKV()...)
		s.grpcServer.GracefulStop()
	}()

	err := backoff.RetryNotify(
		func() error {
			return s.grpcServer.Serve(s.localListener)
		},
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 0),
		func(err error, next time.Duration) {
			err = bullyErrorf(err, "gRPC server stopped serving, will retry")
			n.logger.Errorw(
				"gRPC Server exit", append(s.logKV(), bullyErrKeyword, err, "retryIn", next.String())...)
		})
	if err != nil {
		n.logger.Errorw("gRPCServer shut down unexpectedly", append(s.logKV(), bullyErrKeyword, err)...)
	} else {
		n.logger.Debugw("gRPCServer shut down gracefully", s.logKV()...)
	}
}

// initServer claims the local endpoint named by localIndex and sets up the
// TCP listener for it. A socket still held by a previous instance is retried
// with backoff before giving up.
func initServer(ctx context.Context, n *Node) error {

	le := n.config.Nodes[n.index]
	var listener net.Listener

	err := backoff.Retry(
		func() error {
			var err error
			listener, err = net.Listen("tcp", le)
			return err
		},
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3),
	)

	if err != nil {
		err = bullyErrorf(err, "failed to acquire local TCP socket for gRPC")
		n.logger.Errorw("initServer failed (some other application or previous instance still using socket?)",
			bullyErrKeyword, err)
		return err
	}

	s := &bullyServer{
		node:          n,
		localListener: listener,
		localAddr:     le,
	}

	n.messaging.server = s
	n.logger.Debugw("listener acquired local node address", s.logKV()...)

	return nil
}

// The bully client is very mechanical and simple. Its role is simply to
// offload the blocking gRPC calls from the engine goroutine: the engine
// posts events carrying fully formed requests, the client goroutine fires
// them and routes the outcome back over the engine's returns channels.
type bullyClient struct {
	// Cache the parent node so we can navigate up as necessary.
	node *Node
	// Ordinal ID of the remote node; its index into config.Nodes. Immutable.
	index int32
	// RemoteAddress is set at creation and immutable from there on.
	remoteAddress string
	// grpcClient tracks the grpcClient, and is only accessed in the run
	// goroutine for the client.
	grpcClient bully_pb.BullyServiceClient
	// flushable event channel receives all events that need disposing of.
	// Event will carry all the context required to communicate with remote
	// node and handle response.
	eventChan flushableEventChannel
}

func (c *bullyClient) logKV() []interface{} {
	return []interface{}{"obj", "remoteNodeClient", "remoteNodeIndex", c.index, "address", c.remoteAddress}
}

// bullyClient.run is a per remote node goroutine which maintains a gRPC
// client connection to the remote node and disposes of posted events.
func (c *bullyClient) run(ctx context.Context, wg *sync.WaitGroup, n *Node) {
	defer wg.Done()

	n.logger.Debugw("remote node client worker start running", c.logKV()...)

	// Add grpc client interceptor for logging, and metrics collection (if
	// enabled). We do not use payload logging because it is currently nailed
	// to InfoLevel.
	gcl := n.logger.Named("GRPC_C").Desugar()
	unaryInterceptorChain := []grpc.UnaryClientInterceptor{}
	if c.node.verboseLogging {
		unaryInterceptorChain = append(unaryInterceptorChain,
			grpc_zap.UnaryClientInterceptor(
				gcl, grpc_zap.WithLevels(func(code codes.Code) zapcore.Level { return zapcore.DebugLevel })))
	}

	if n.messaging.clientUnaryInterceptorForMetrics != nil {
		unaryInterceptorChain = append(unaryInterceptorChain, n.messaging.clientUnaryInterceptorForMetrics)
	}

	// Prepend our options such that they can be overridden by the client
	// options if they overlap. Note no WithBlock: a dead peer must not stall
	// the client goroutine, elections need to complete around it.
	options := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    time.Second * defaultInactivityTriggeredPingSeconds,
			Timeout: time.Second * defaultTimeoutAfterPingSeconds,
		}),
		grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(unaryInterceptorChain...))}

	// Append client provided dial options specifically for this client to
	// server connection.
	if n.config.ClientDialOptionsFn != nil {
		options = append(options, n.config.ClientDialOptionsFn(n.messaging.server.localAddr, c.remoteAddress)...)
	}

	conn, err := grpc.DialContext(ctx, c.remoteAddress, options...)
	if err != nil {
		if ctx.Err() == nil {
			// This is not a shutdown. We have taken a fatal error (i.e. this
			// is not a transient error). Possibly a misconfiguration of the
			// options, for example. We will return a fatal error.
			n.logger.Errorw("remote node client worker aborting", append(c.logKV(), bullyErrKeyword, err)...)
			n.signalFatalError(bullyErrorf(
				ErrClientConnectionUnrecoverable, "grpc client connection to remote node, err [%v]", err))
		}
		return
	}

	defer func() { _ = conn.Close() }()

	n.logger.Debugw("remote node client worker connected",
		append(c.logKV(), "connState", conn.GetState().String())...)
	c.grpcClient = bully_pb.NewBullyServiceClient(conn)

	for {
		select {
		case e := <-c.eventChan.channel:
			// The event handler carries all the context necessary, and
			// equally handles the feedback based on the outcome of the event.
			e.handle(ctx)

		case <-ctx.Done():
			n.logger.Debugw("remote node client worker shutting down", c.logKV()...)
			return
		}
	}
}

func initClients(ctx context.Context, n *Node) error {

	// Expectation at this point is that the server (local endpoint) has been
	// identified, and listener is enabled on it.
	if n.messaging == nil || n.messaging.server == nil || n.messaging.server.localAddr == "" {
		err := bullyErrorf(ErrServerNotSetup, "failed to set up clients, local endpoint not identified yet")
		n.logger.Errorw("server should be set up successfully prior to client setup", bullyErrKeyword, err)
		return err
	}

	// Set up a structure and channel per remote node. Only the state - the
	// goroutines are fired up in runMessaging.
	clients := map[int32]*bullyClient{}
	for i, remoteNodeAddress := range n.config.Nodes {
		if int32(i) == n.index {
			continue
		}
		client := &bullyClient{
			node:          n,
			index:         int32(i),
			remoteAddress: remoteNodeAddress,
			// Event channels is how the engine communicates with a gRPC
			// client to the remote node associated with this client. The
			// event itself carries all the handling context.
			eventChan: newFlushableEventChannel(n.config.ChannelDepth.ClientEvents),
		}
		clients[int32(i)] = client
		n.logger.Debugw("added remote node from configuration", client.logKV()...)
	}
	n.messaging.clients = clients

	return nil
}

type bullyMessaging struct {
	server  *bullyServer
	clients map[int32]*bullyClient
	//
	// Metrics interceptors...
	clientUnaryInterceptorForMetrics func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error
	serverUnaryInterceptorForMetrics func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error)
}

// initMessaging sets up both client workers used to push messages to cluster
// nodes, and server side handling of messages sent to the local instance.
func initMessaging(ctx context.Context, n *Node) error {

	n.logger.Debugw("bullyMessaging, initialising", n.logKV()...)

	if n.verboseLogging {
		// Not quite from init functions because we let user control it, but
		// early on enough.
		grpc_zap.ReplaceGrpcLogger(n.logger.Desugar().Named("grpc"))
	}

	if n.metrics != nil {
		// Setup of grpc metrics depends on a) whether application is
		// exporting metrics, and on top of that, whether it is using the
		// default registry or not - prom library require different setup.
		if n.metrics.registry != prometheus.DefaultRegisterer {

			cm := grpc_prometheus.NewClientMetrics()
			if n.metrics.detailed {
				cm.EnableClientHandlingTimeHistogram()
			}
			n.metrics.registry.MustRegister(cm)
			n.messaging.clientUnaryInterceptorForMetrics = cm.UnaryClientInterceptor()

			sm := grpc_prometheus.NewServerMetrics()
			if n.metrics.detailed {
				sm.EnableHandlingTimeHistogram()
			}
			n.metrics.registry.MustRegister(sm)
			n.messaging.serverUnaryInterceptorForMetrics = sm.UnaryServerInterceptor()

		} else if n.metrics.detailed {
			grpc_prometheus.EnableHandlingTimeHistogram()
			grpc_prometheus.EnableClientHandlingTimeHistogram()
			n.messaging.clientUnaryInterceptorForMetrics = grpc_prometheus.UnaryClientInterceptor
			n.messaging.serverUnaryInterceptorForMetrics = grpc_prometheus.UnaryServerInterceptor
		}

	}

	err := initServer(ctx, n)
	if err != nil {
		return err
	}

	err = initClients(ctx, n)
	if err != nil {
		return err
	}

	return nil
}

// runMessaging runs the server side (which terminates RPCs and serialises
// them to the engine event loop) and the per remote node client goroutines.
func runMessaging(ctx context.Context, wg *sync.WaitGroup, n *Node) {

	defer wg.Done()

	for _, client := range n.messaging.clients {
		wg.Add(1)
		go client.run(ctx, wg, n)
	}

	wg.Add(1)
	go n.messaging.server.run(ctx, wg, n)

}
