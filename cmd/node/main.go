// Command node runs one overlay node: Neighborhood, Hopper, Dispatcher,
// ProxyServer, ProxyClient, and Accountant wired together into the
// actor fabric described in spec's actor-message section, started from a
// single cobra command in the teacher's cmd/tor-client idiom.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cvsouth/corenet/accountant"
	"github.com/cvsouth/corenet/actorfabric"
	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/dispatcher"
	"github.com/cvsouth/corenet/hopper"
	"github.com/cvsouth/corenet/neighborhood"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/proxyclient"
	"github.com/cvsouth/corenet/proxyclient/streampool"
	"github.com/cvsouth/corenet/proxyserver"
	"github.com/cvsouth/corenet/wallet"
)

// Version is set at build time via ldflags.
var Version = "dev"

// bootstrapInterval is how often Neighborhood resends its own record to
// its configured neighbors, keeping a restarted or newly-joined peer's
// gossip reachable without waiting for an external trigger.
const bootstrapInterval = 5 * time.Minute

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg NodeConfig
	var configPath string

	cmd := &cobra.Command{
		Use:     "node",
		Short:   "Run a corenet overlay node",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				fileCfg, err := loadConfigFile(configPath)
				if err != nil {
					return err
				}
				cfg = mergeConfig(fileCfg, cfg, cmd)
			}
			return runNode(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.IP, "ip", nodeaddr.SentinelIP.String(), "this node's externally reachable IP address")
	flags.StringSliceVar(&cfg.DNSServers, "dns_servers", nil, "DNS server IP addresses used to resolve exit-side hostnames")
	flags.StringArrayVar(&cfg.Neighbors, "neighbor", nil, "a neighbor node reference (repeatable): pubkey[:ip:port,port,...]")
	flags.StringVar(&cfg.WalletAddress, "wallet_address", "", "this node's earning wallet address")
	flags.StringVar(&cfg.NodeType, "node_type", "standard", "standard or bootstrap")
	flags.IntVar(&cfg.PortCount, "port_count", 1, "number of consecutive clandestine ports to listen on")
	flags.StringVar(&cfg.DNSTarget, "dns_target", "", "unused placeholder retained for CLI parity with the reference protocol")
	flags.Uint16Var(&cfg.DNSPort, "dns_port", 53, "port the configured DNS servers listen on")
	flags.StringVar(&cfg.LogLevel, "log_level", "info", "trace, debug, info, warn, or error")
	flags.StringVar(&cfg.DataDirectory, "data_directory", ".", "directory for this node's identity, accounting database, and log file")
	flags.IntVar(&cfg.MinimumHopCount, "minimum_hop_count", 2, "minimum number of relay hops a requested route must have")
	flags.StringVar(&configPath, "config", "", "optional YAML config file; explicit flags override its values")

	return cmd
}

// mergeConfig folds file into flagCfg, keeping flagCfg's value for every
// field whose flag the user actually set and falling back to the file's
// value otherwise — flags win, the file fills gaps.
func mergeConfig(file, flagCfg NodeConfig, cmd *cobra.Command) NodeConfig {
	out := file
	changed := cmd.Flags().Changed
	if changed("ip") {
		out.IP = flagCfg.IP
	}
	if changed("dns_servers") {
		out.DNSServers = flagCfg.DNSServers
	}
	if changed("neighbor") {
		out.Neighbors = flagCfg.Neighbors
	}
	if changed("wallet_address") {
		out.WalletAddress = flagCfg.WalletAddress
	}
	if changed("node_type") {
		out.NodeType = flagCfg.NodeType
	}
	if changed("port_count") {
		out.PortCount = flagCfg.PortCount
	}
	if changed("dns_target") {
		out.DNSTarget = flagCfg.DNSTarget
	}
	if changed("dns_port") {
		out.DNSPort = flagCfg.DNSPort
	}
	if changed("log_level") {
		out.LogLevel = flagCfg.LogLevel
	}
	if changed("data_directory") {
		out.DataDirectory = flagCfg.DataDirectory
	}
	if changed("minimum_hop_count") {
		out.MinimumHopCount = flagCfg.MinimumHopCount
	}
	return out
}

func runNode(cfg NodeConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	logger, logFile, err := setupLogging(cfg.DataDirectory, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	de, err := loadOrCreateIdentity(cfg.DataDirectory)
	if err != nil {
		return fmt.Errorf("load node identity: %w", err)
	}
	logger.Info("node identity loaded", "public_key", de.PublicKey())

	neighbors, err := cfg.parseNeighbors()
	if err != nil {
		return err
	}
	ports := cfg.clandestinePorts()
	ip := net.ParseIP(cfg.IP)
	earningWallet := wallet.New(cfg.WalletAddress)

	thisNode := neighborhood.NodeRecordInner{
		PublicKey:       de.PublicKey(),
		NodeAddr:        nodeaddr.New(ip, ports),
		IsBootstrapNode: cfg.NodeType == "bootstrap",
		EarningWallet:   earningWallet,
		Version:         1,
	}

	neighborhoodConfig := neighborhood.NeighborhoodConfig{
		LocalNodeRef:        neighborhood.NodeReference{PublicKey: de.PublicKey(), NodeAddr: thisNode.NodeAddr},
		NeighborConfigs:     neighbors,
		ClandestinePortList: ports,
	}

	nbhd, err := neighborhood.New(de, neighborhoodConfig, thisNode, logger)
	if err != nil {
		return fmt.Errorf("start neighborhood: %w", err)
	}

	hop := hopper.New(de, logger)
	disp := dispatcher.New(logger)

	proxySrv := proxyserver.New(proxyserver.Config{
		ListenIP:        ip,
		Ports:           ports,
		MinimumHopCount: cfg.MinimumHopCount,
		ConsumingWallet: &earningWallet,
	}, de, logger)

	proxyCli, err := proxyclient.New(streampool.Config{
		DNSServers: cfg.dnsServerIPs(),
		DNSPort:    cfg.DNSPort,
	}, proxyclient.Rates{ServiceRate: 1, ByteRate: 1}, de, logger)
	if err != nil {
		return fmt.Errorf("start proxy client: %w", err)
	}

	acct, err := accountant.Open(filepath.Join(cfg.DataDirectory, "accounting.db"), logger)
	if err != nil {
		return fmt.Errorf("open accounting database: %w", err)
	}
	defer acct.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wireActors(ctx, nbhd, hop, disp, proxySrv, proxyCli, acct)

	if err := disp.ListenAndServe(ctx, ip, ports); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := proxySrv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("start proxy server: %w", err)
	}
	nbhd.Start()
	go runBootstrapTicker(ctx, nbhd)

	logger.Info("node started", "ip", cfg.IP, "ports", ports, "node_type", cfg.NodeType)

	<-ctx.Done()
	logger.Info("shutting down")
	disp.Wait()
	proxySrv.Wait()
	return nil
}

// wireActors builds one mailbox per message type crossing an actor
// boundary and binds every actor's peer Recipients, per spec's
// BindMessage pattern: every cross-actor reference is resolved once, here,
// as a plain function value — no actor ever holds another's struct
// pointer. Every mailbox stops on its own once ctx is canceled.
func wireActors(
	ctx context.Context,
	nbhd *neighborhood.Neighborhood,
	hop *hopper.Hopper,
	disp *dispatcher.Dispatcher,
	proxySrv *proxyserver.Server,
	proxyCli *proxyclient.Client,
	acct *accountant.Accountant,
) {
	const mailboxCapacity = actorfabric.DefaultMailboxCapacity

	hopperInbound := actorfabric.NewMailbox[dispatcher.Inbound]("hopper-inbound", mailboxCapacity, nil,
		func(ctx context.Context, in dispatcher.Inbound) {
			hop.OnLiveCoresPackage(ctx, in.NeighborIP, in.Package)
		})

	hopperOriginate := actorfabric.NewMailbox[cores.IncipientCoresPackage]("hopper-originate", mailboxCapacity, nil,
		func(_ context.Context, incipient cores.IncipientCoresPackage) {
			hop.Originate(incipient)
		})

	dispatcherOutbound := actorfabric.NewMailbox[hopper.Outbound]("dispatcher-outbound", mailboxCapacity, nil,
		func(_ context.Context, out hopper.Outbound) {
			disp.Send(out.NextHop, out.Package)
		})

	neighborhoodDeliver := actorfabric.NewMailbox[cores.ExpiredCoresPackage]("neighborhood-deliver", mailboxCapacity, nil,
		nbhd.OnExpiredPackage)

	proxyServerDeliver := actorfabric.NewMailbox[cores.ExpiredCoresPackage]("proxyserver-deliver", mailboxCapacity, nil,
		proxySrv.OnExpiredPackage)

	proxyClientDeliver := actorfabric.NewMailbox[cores.ExpiredCoresPackage]("proxyclient-deliver", mailboxCapacity, nil,
		proxyCli.OnExpiredPackage)

	accountantRouting := actorfabric.NewMailbox[hopper.RoutingServiceProvided]("accountant-routing", mailboxCapacity, nil,
		acct.OnRoutingServiceProvided)

	accountantExit := actorfabric.NewMailbox[proxyclient.ReportExitServiceProvided]("accountant-exit", mailboxCapacity, nil,
		acct.OnExitServiceProvided)

	hop.Bind(hopper.BindDeps{
		LookupNodeAddr: nbhd.LookupNodeAddr,
		ToDispatcher:   dispatcherOutbound.Recipient(),
		ToAccountant:   accountantRouting.Recipient(),
		ToNeighborhood: neighborhoodDeliver.Recipient(),
		ToProxyServer:  proxyServerDeliver.Recipient(),
		ToProxyClient:  proxyClientDeliver.Recipient(),
	})
	disp.Bind(hopperInbound.Recipient())
	nbhd.Bind(hopperOriginate.Recipient())
	proxySrv.Bind(nbhd.RouteQuery, hopperOriginate.Recipient())
	proxyCli.Bind(hopperOriginate.Recipient(), accountantExit.Recipient())

	boxes := []interface{ Run(context.Context) }{
		hopperInbound, hopperOriginate, dispatcherOutbound,
		neighborhoodDeliver, proxyServerDeliver, proxyClientDeliver,
		accountantRouting, accountantExit,
	}
	for _, b := range boxes {
		go b.Run(ctx)
	}
}

// runBootstrapTicker periodically resends this node's own record to its
// configured neighbors, so a neighbor that restarted after this node's
// initial Start() call still learns of it.
func runBootstrapTicker(ctx context.Context, nbhd *neighborhood.Neighborhood) {
	ticker := time.NewTicker(bootstrapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nbhd.OnBootstrapNeighborhoodNow(ctx)
		}
	}
}
