// Package proxyclient implements the exit side of the overlay: it
// receives decrypted ClientRequestPayloads from Hopper, demultiplexes them
// onto real upstream TCP connections through streampool, and returns
// ClientResponsePayloads back along the stored return route. Grounded on
// spec §4.4; the per-StreamKey multiplexing itself lives in streampool.
package proxyclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cvsouth/corenet/actorfabric"
	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/proxyclient/streampool"
	"github.com/cvsouth/corenet/proxypayload"
	"github.com/cvsouth/corenet/route"
	"github.com/cvsouth/corenet/seqpacket"
	"github.com/cvsouth/corenet/streamkey"
	"github.com/cvsouth/corenet/wallet"
)

// StreamContext is the per-StreamKey correlation state needed to address
// a response back to its originator. New contexts always win over old
// ones for the same key — the Open Question in spec §9 decided in favor
// of "new wins", matching the original's
// new_return_route_overwrites_existing_return_route test.
type StreamContext struct {
	ReturnRoute           route.Route
	PayloadDestinationKey cryptde.PublicKey
	ConsumingWallet       *wallet.Wallet
}

// ReportExitServiceProvided mirrors the Accountant message of the same
// name.
type ReportExitServiceProvided struct {
	ConsumingWallet *wallet.Wallet
	PayloadSize     int
	ServiceRate     int64
	ByteRate        int64
}

// Rates configures the per-byte/per-request billing rates ProxyClient
// reports to Accountant for exit service.
type Rates struct {
	ServiceRate int64
	ByteRate    int64
}

// Client is the ProxyClient actor.
type Client struct {
	logger *slog.Logger
	de     cryptde.CryptDE
	rates  Rates
	pool   *streampool.Pool

	toHopper     actorfabric.Recipient[cores.IncipientCoresPackage]
	toAccountant actorfabric.Recipient[ReportExitServiceProvided]

	mu       sync.Mutex
	contexts map[streamkey.StreamKey]StreamContext
}

// New builds a Client backed by a streampool.Pool configured with cfg.
// An empty DNS server list is a configuration error, surfaced here
// exactly as spec §8 requires.
func New(cfg streampool.Config, rates Rates, de cryptde.CryptDE, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		logger:   logger,
		de:       de,
		rates:    rates,
		contexts: make(map[streamkey.StreamKey]StreamContext),
	}
	pool, err := streampool.New(cfg, c.onInboundServerData, logger)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// Bind wires Client's peer dependencies.
func (c *Client) Bind(toHopper actorfabric.Recipient[cores.IncipientCoresPackage], toAccountant actorfabric.Recipient[ReportExitServiceProvided]) {
	c.toHopper = toHopper
	c.toAccountant = toAccountant
}

// OnExpiredPackage is Hopper's Recipient[cores.ExpiredCoresPackage] target
// for Component=ProxyClient.
func (c *Client) OnExpiredPackage(_ context.Context, pkg cores.ExpiredCoresPackage) {
	req, err := proxypayload.UnmarshalClientRequestPayload(pkg.PayloadBytes)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Error (%s) interpreting payload", err))
		return
	}

	c.mu.Lock()
	c.contexts[req.StreamKey] = StreamContext{
		ReturnRoute:           pkg.RemainingRoute,
		PayloadDestinationKey: req.OriginatorPublicKey,
		ConsumingWallet:       pkg.ConsumingWallet,
	}
	c.mu.Unlock()

	c.pool.ProcessPackage(req)
}

// onInboundServerData is streampool's callback for every chunk (or
// terminal EOF) read from an upstream connection.
func (c *Client) onInboundServerData(msg streampool.InboundServerData) {
	c.mu.Lock()
	ctx, ok := c.contexts[msg.StreamKey]
	if ok && msg.LastData {
		delete(c.contexts, msg.StreamKey)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Error(fmt.Sprintf("Received unsolicited %d-byte response from %s, seq %d: ignoring",
			len(msg.Data), msg.Source, msg.SequenceNumber))
		return
	}

	resp := proxypayload.ClientResponsePayload{
		StreamKey:       msg.StreamKey,
		SequencedPacket: seqpacket.New(msg.Data, msg.SequenceNumber, msg.LastData),
	}
	incipient, err := cores.New(ctx.ReturnRoute, resp.Marshal(), ctx.PayloadDestinationKey)
	if err != nil {
		c.logger.Error("could not create CORES package for response", "err", err)
		return
	}
	if c.toHopper != nil {
		c.toHopper(incipient)
	}

	if ctx.ConsumingWallet == nil {
		c.logger.Debug(fmt.Sprintf("Relayed %d-byte response without consuming wallet for free", len(msg.Data)))
		return
	}
	if c.toAccountant != nil {
		c.toAccountant(ReportExitServiceProvided{
			ConsumingWallet: ctx.ConsumingWallet,
			PayloadSize:     len(msg.Data),
			ServiceRate:     c.rates.ServiceRate,
			ByteRate:        c.rates.ByteRate,
		})
	}
}
