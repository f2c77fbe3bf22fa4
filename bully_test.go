package bully

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

func getTestLogger() *zap.Logger {
	cfg := DefaultZapLoggerConfig()
	// Switch to human readable logs for test.
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	cfg.Level.SetLevel(zapcore.DebugLevel)
	l, _ := cfg.Build()
	return l
}

// Fast timers so cluster tests converge in seconds rather than in the
// deployment defaults.
func getTestTimers() NodeTimers {
	return NodeTimers{
		ElectionTimeout:       300 * time.Millisecond,
		HeartbeatInterval:     100 * time.Millisecond,
		MasterLivenessTimeout: 600 * time.Millisecond,
		SlaveLivenessTimeout:  600 * time.Millisecond,
		RPCTimeout:            300 * time.Millisecond,
	}
}

func waitForCondition(t *testing.T, within time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for: %s", within, what)
}

func TestInitLogging(t *testing.T) {

	l, err := DefaultZapLoggerConfig().Build()
	if err != nil {
		t.Fatal(err)
	}
	l.Info("log setup")

	//
	// Test logger without logs.
	n := Node{
		messaging: &bullyMessaging{},
	}
	err = initLogging(&n)
	if err != nil {
		t.Errorf("expect initLogging to not fail [%v]", err)
	}

	n.logger.Info("logging with default logger config")
	if n.logger == nil {
		t.Error("initLogging returns without error AND without logger set")
	}

	// exercise disable logging - WithLogger is passed into MakeNode by
	// applications. Here we exercise the internals.
	f := WithLogger(nil, false)
	err = f(&n)
	if err != nil {
		t.Errorf("init logging failed with [%v] to apply WithLogger to node", err)
	}
	err = initLogging(&n)
	if err != nil {
		t.Errorf("expect initLogging for noop logging to not fail [%v]", err)
	}

	n.logger.Info("THIS SHOULD NOT BE SEEN, LOGS SHOULD BE DISCARDED")
}

// Exercise preferred error generation
func TestWrapperErrorRendering(t *testing.T) {
	err := bullyErrorf(
		ErrBadMakeNodeOption, "testing error and sentinel, [%v,%v]",
		37, 64)
	fmt.Println("normal rendering: ", err)
	fmt.Printf("detail rendering: %+v\n", err)
}

func TestInitMessaging(t *testing.T) {

	l, err := DefaultZapLoggerConfig().Build()
	if err != nil {
		t.Error("failed to set up logging for test. ", err)
	}

	n := &Node{
		index:           1,
		logger:          l.Sugar(),
		fatalErrorCount: atomic.NewInt32(0),
		config: &NodeConfig{
			Nodes: []string{
				"1.2.3.4:12345",
				":8989", // we expect this to be picked based on index.
			},
			Timers: defaultTimers(),
		}}
	n.config.ChannelDepth.ServerEvents = 32
	n.config.ChannelDepth.ClientEvents = 32

	err = initClients(nil, n)
	if err == nil {
		t.Errorf("expected initClient without server setup to fail")
	} else if errors.Cause(err) != ErrServerNotSetup {
		t.Errorf("expected initClient without server setup to fail with %v, got %v",
			ErrServerNotSetup, err)
	}

	n.messaging = &bullyMessaging{}
	err = initMessaging(nil, n)
	if err != nil {
		t.Errorf("expected socket on %s to open, but failed [%v]",
			n.config.Nodes[1], err)
	}
	t.Logf("opened local socket on %v\n", n.messaging.server.localListener.Addr())

	m := &Node{
		index:           1,
		logger:          l.Sugar(),
		fatalErrorCount: atomic.NewInt32(0),
		config:          n.config,
		messaging:       &bullyMessaging{},
	}
	err = initMessaging(nil, m)
	if err == nil {
		t.Errorf("expected %s to fail to open but it did", n.config.Nodes[1])
	} else {
		t.Logf("ERROR AS EXPECTED (%v)", err)
	}

	_ = n.messaging.server.localListener.Close()
}

func TestMakeNodeValidation(t *testing.T) {

	l := getTestLogger()
	insecureDial := func(local, remote string) []grpc.DialOption {
		return []grpc.DialOption{grpc.WithInsecure()}
	}

	testCases := []struct {
		name       string
		cfg        NodeConfig
		localIndex int32
		cause      error
	}{
		{
			name:       "NEGATIVE cluster of one",
			cfg:        NodeConfig{Nodes: []string{":8088"}, ClientDialOptionsFn: insecureDial},
			localIndex: 0,
			cause:      ErrMissingNodeConfig,
		},
		{
			name:       "NEGATIVE missing explicit security option",
			cfg:        NodeConfig{Nodes: []string{":8088", ":8089"}},
			localIndex: 0,
			cause:      ErrMissingNodeConfig,
		},
		{
			name:       "NEGATIVE local index out of bounds",
			cfg:        NodeConfig{Nodes: []string{":8088", ":8089"}, ClientDialOptionsFn: insecureDial},
			localIndex: 7,
			cause:      ErrBadLocalNodeIndex,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var wg sync.WaitGroup
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			wg.Add(1)
			_, err := MakeNode(ctx, &wg, tc.cfg, tc.localIndex, WithLogger(l, false))
			if err == nil {
				t.Fatalf("%s, expected MakeNode to fail", tc.name)
			}
			if errors.Cause(err) != tc.cause {
				t.Errorf("%s, expected cause [%v], got [%v]", tc.name, tc.cause, err)
			}
			wg.Wait()
		})
	}
}

func TestSignalFatalError(t *testing.T) {

	nodes, cancels, wg := startTestCluster(t, []string{":8288", ":8289"})
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		wg.Wait()
	}()

	// Make sure we do not block even if channel is not drained.
	for i := 0; i < 3; i++ {
		nodes[0].signalFatalError(fmt.Errorf("testing signal fatal error %d", i))
	}
	errChan := nodes[0].FatalErrorChannel()
	select {
	case <-errChan:
	case <-time.After(time.Second):
		t.Fatal("failed to signal shutdown in time")
	}
}

// startTestNode fires up one cluster node with its own cancel so tests can
// take down (and bring back) individual nodes.
func startTestNode(t *testing.T, addresses []string, index int, wg *sync.WaitGroup) (*Node, context.CancelFunc) {
	t.Helper()

	cfg := NewNodeConfig()
	cfg.Nodes = addresses
	cfg.Timers = getTestTimers()
	cfg.ClientDialOptionsFn = func(local, remote string) []grpc.DialOption {
		return []grpc.DialOption{grpc.WithInsecure()}
	}

	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	n, err := MakeNode(ctx, wg, cfg, int32(index),
		WithLogger(getTestLogger().Named(fmt.Sprintf("LOG%d", index)), false))
	if err != nil {
		cancel()
		t.Fatalf("failed to start node %d: %v", index, err)
	}

	return n, cancel
}

func startTestCluster(t *testing.T, addresses []string) ([]*Node, []context.CancelFunc, *sync.WaitGroup) {
	t.Helper()

	var wg sync.WaitGroup
	nodes := make([]*Node, len(addresses))
	cancels := make([]context.CancelFunc, len(addresses))

	for i := range addresses {
		nodes[i], cancels[i] = startTestNode(t, addresses, i, &wg)
	}

	return nodes, cancels, &wg
}

// A five node cluster must converge on the highest index as master, with
// every node agreeing, and the green quota (ceil(5/3) == 2) applied:
// master green, the lowest ranked slave green, the rest red.
func TestClusterElectionAndColoring(t *testing.T) {

	nodes, cancels, wg := startTestCluster(t,
		[]string{":8388", ":8389", ":8390", ":8391", ":8392"})
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		wg.Wait()
	}()

	waitForCondition(t, 15*time.Second, "highest node elected master everywhere", func() bool {
		if nodes[4].State() != StateMaster {
			return false
		}
		for i := 0; i < 4; i++ {
			if nodes[i].State() != StateSlave || nodes[i].MasterID() != 4 {
				return false
			}
		}
		return true
	})

	waitForCondition(t, 15*time.Second, "colors applied per quota", func() bool {
		return nodes[4].CurrentColor() == ColorGreen &&
			nodes[0].CurrentColor() == ColorGreen &&
			nodes[1].CurrentColor() == ColorRed &&
			nodes[2].CurrentColor() == ColorRed &&
			nodes[3].CurrentColor() == ColorRed
	})

	// Master's roster view agrees.
	waitForCondition(t, 10*time.Second, "master roster settles", func() bool {
		greens, reds := 0, 0
		for _, entry := range nodes[4].Roster() {
			if !entry.Alive {
				return false
			}
			switch entry.Color {
			case ColorGreen:
				greens++
			case ColorRed:
				reds++
			}
		}
		return greens == 1 && reds == 3
	})
}

// Kill the master: the remaining nodes must detect the silence, re-elect the
// next highest index, and recolor for the reduced membership (two alive:
// new master green, the other slave red).
func TestClusterMasterFailover(t *testing.T) {

	nodes, cancels, wg := startTestCluster(t, []string{":8488", ":8489", ":8490"})
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		wg.Wait()
	}()

	waitForCondition(t, 10*time.Second, "initial master elected", func() bool {
		return nodes[2].State() == StateMaster &&
			nodes[0].MasterID() == 2 && nodes[1].MasterID() == 2
	})

	// Take the master down.
	cancels[2]()

	waitForCondition(t, 15*time.Second, "failover to next highest node", func() bool {
		return nodes[1].State() == StateMaster &&
			nodes[0].State() == StateSlave && nodes[0].MasterID() == 1
	})

	waitForCondition(t, 10*time.Second, "recolored for reduced membership", func() bool {
		return nodes[1].CurrentColor() == ColorGreen &&
			nodes[0].CurrentColor() == ColorRed
	})

	// Bring the old master back on its socket: it outranks everybody, so
	// its election resets the cluster and it reclaims mastership.
	rejoined, cancelRejoined := startTestNode(t,
		[]string{":8488", ":8489", ":8490"}, 2, wg)
	defer cancelRejoined()

	waitForCondition(t, 15*time.Second, "rejoined node reclaims mastership", func() bool {
		return rejoined.State() == StateMaster &&
			nodes[0].State() == StateSlave && nodes[0].MasterID() == 2 &&
			nodes[1].State() == StateSlave && nodes[1].MasterID() == 2
	})

	waitForCondition(t, 10*time.Second, "recolored for restored membership", func() bool {
		return rejoined.CurrentColor() == ColorGreen &&
			nodes[0].CurrentColor() == ColorRed &&
			nodes[1].CurrentColor() == ColorRed
	})
}

// ExampleMakeNode provides a simple example of how we kick off the bully
// package, and also how we can programmatically handle errors if we prefer
// to. It also shows how asynchronous fatal errors can be received and
// handled.
func ExampleMakeNode() {

	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(context.Background())

	//
	// At a minimum, we need config to describe
	//  1. cluster nodes
	//  2. specify TLS or absence of it. We adopt the same stance as the grpc
	//     library; no TLS has to be explicitly requested and we do not
	//     default to it.
	//
	// Note how in this example we rely on the default zap logger set up by
	// the package. This logging can be disabled using WithLogger(nil), or
	// customised by specifying a logger instead of nil.
	cfg := NewNodeConfig()
	cfg.Nodes = []string{"node1.example.com:443", "node2.example.com:443", "node3.example.com:443"}
	cfg.ClientDialOptionsFn = func(local, remote string) []grpc.DialOption {
		return []grpc.DialOption{grpc.WithInsecure()}
	}

	wg.Add(1)
	localIndex := int32(2) // say, if we are node3.example.com
	n, err := MakeNode(ctx, &wg, cfg, localIndex)
	if err != nil {

		switch errors.Cause(err) {
		case ErrBadMakeNodeOption:
			//
			// Handle specific sentinel in whichever way we see fit.
			// ...
		default:
			// Root cause is not a sentinel.
		}
		// err itself renders the full context not just the sentinel.
		fmt.Println(err)

	} else {

		fmt.Printf("node %d started as %s", n.ID(), n.State())

		// Handle any fatal signals from below as appropriate... either by
		// starting a new instance or exiting and letting the orchestrator
		// handle failure.
		fatalSignal := n.FatalErrorChannel()

		//...
		// Once we are done, we can signal shutdown and wait for the package
		// to clean up and exit.
		select {
		case err := <-fatalSignal:
			// handle fatal error as appropriate.
			fmt.Println(err)

		case <-ctx.Done():
			//...
		}

	}

	cancel()
	wg.Wait()
}
