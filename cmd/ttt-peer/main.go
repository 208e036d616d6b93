// Command ttt-peer launches one peer of the decentralized tic-tac-toe mesh.
// It wires discovery, the RPC transport, the console interaction adapter and
// the peer core together and keeps the process alive until the user opts
// out of the matchmaking pool or the process receives a termination signal,
// grounded on remote-procedure-call/cmd/root.go's cobra entry point.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcastellin/distributed-tictactoe/internal/discovery"
	"github.com/mcastellin/distributed-tictactoe/internal/interaction"
	"github.com/mcastellin/distributed-tictactoe/internal/obslog"
	"github.com/mcastellin/distributed-tictactoe/internal/peer"
	"github.com/mcastellin/distributed-tictactoe/internal/rpctransport"
)

var verbose bool

// discoveryFlags mirror spec.md §6's "SHOULD be configurable" defaults;
// zero values below are overwritten with discovery.DefaultConfig() in init.
var discoveryFlags struct {
	group            string
	port             int
	helloPeriod      time.Duration
	gossip           bool
	gossipStaleness  time.Duration
	cleanerThreshold time.Duration
	cleanerPeriod    time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "ttt-peer [host [port]]",
	Short: "Start a decentralized tic-tac-toe peer",
	Long: `ttt-peer starts one peer in a fully decentralized, serverless
tic-tac-toe mesh. With no arguments it binds to the machine's outbound
address on an ephemeral port; a host, or a host and port, may be given
explicitly.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(args)
	},
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable human-readable development logging")

	d := discovery.DefaultConfig()
	rootCmd.Flags().StringVar(&discoveryFlags.group, "mcast-group", d.Group, "discovery multicast group")
	rootCmd.Flags().IntVar(&discoveryFlags.port, "mcast-port", d.Port, "discovery multicast/gossip port")
	rootCmd.Flags().DurationVar(&discoveryFlags.helloPeriod, "hello-period", d.HelloPeriod, "interval between HELLO multicasts")
	rootCmd.Flags().BoolVar(&discoveryFlags.gossip, "gossip", d.Gossip, "enable triggered unicast GOSSIP and the staleness cleaner")
	rootCmd.Flags().DurationVar(&discoveryFlags.gossipStaleness, "gossip-staleness", d.GossipStaleness, "max age of a gossiped timestamp before it's dropped")
	rootCmd.Flags().DurationVar(&discoveryFlags.cleanerThreshold, "cleaner-threshold", d.CleanerThreshold, "how long a peer may go unseen before being pruned")
	rootCmd.Flags().DurationVar(&discoveryFlags.cleanerPeriod, "cleaner-period", d.CleanerPeriod, "interval between cleaner sweeps")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	host, port, err := parseArgs(args)
	if err != nil {
		return err
	}

	id, err := pickAddress(host, port)
	if err != nil {
		return fmt.Errorf("picking address: %w", err)
	}

	logger, err := obslog.New(verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	discCfg := discovery.Config{
		Group:            discoveryFlags.group,
		Port:             discoveryFlags.port,
		HelloPeriod:      discoveryFlags.helloPeriod,
		Gossip:           discoveryFlags.gossip,
		GossipStaleness:  discoveryFlags.gossipStaleness,
		CleanerThreshold: discoveryFlags.cleanerThreshold,
		CleanerPeriod:    discoveryFlags.cleanerPeriod,
	}
	disc := discovery.New(id, discCfg, logger)
	if err := disc.Serve(); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	defer disc.Close()

	transport := rpctransport.New()
	ix := interaction.NewConsole(os.Stdin, os.Stdout)
	p := peer.New(id, transport, disc, ix, logger, peer.DefaultConfig())
	if err := p.Start(); err != nil {
		return fmt.Errorf("starting peer: %w", err)
	}

	fmt.Printf("peer %s is up, looking for matches\n", id)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case <-p.Done():
	case <-sigc:
	}

	return p.Close()
}

// parseArgs implements the `[host [port]]` positional argument contract of
// spec.md §6: zero args picks both host and port, one arg fixes the host
// only, two args fix both.
func parseArgs(args []string) (host string, port int, err error) {
	switch len(args) {
	case 0:
		host, err = outboundHost()
		return host, 0, err
	case 1:
		return args[0], 0, nil
	default:
		port, err = strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		return args[0], port, nil
	}
}

// pickAddress resolves an ephemeral port when port is 0 by briefly binding
// and releasing a listener, then returns the final host:port identity.
func pickAddress(host string, port int) (string, error) {
	if port != 0 {
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", err
	}
	defer l.Close()

	assigned := l.Addr().(*net.TCPAddr).Port
	return net.JoinHostPort(host, strconv.Itoa(assigned)), nil
}

// outboundHost determines the local machine's address by asking the kernel
// which interface would be used to reach an external host; no packet is
// actually sent since UDP's Dial only resolves a route.
func outboundHost() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
