// Package node wires the core's five subsystems — consensus engines,
// the request pipeline, the pending-block cache, epoch transition, and
// persistence — into one runnable process, the way
// original_source/logos/node/node.hpp's Node owns (by reference, not by
// process-wide static) the ConsensusManager, PersistenceManager,
// DelegateKeyStore and PeerManager it supervises. Every collaborator
// here is a constructor argument or a field on Node; nothing is a
// package-level singleton.
package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/delegatechain/core/admission"
	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/callback"
	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/config"
	"github.com/delegatechain/core/consensus"
	"github.com/delegatechain/core/epoch"
	"github.com/delegatechain/core/netdelegate"
	"github.com/delegatechain/core/pendingcache"
	"github.com/delegatechain/core/persistence"
	"github.com/delegatechain/core/request"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Node owns every collaborator a running delegate needs: the three
// consensus engines (R/M/E), the admission pipeline, the pending-block
// cache, the delegate network, epoch transition state, and the
// persistent store.
type Node struct {
	cfg *config.Config

	selfKey  *bls.SecretKey
	keyStore *bls.KeyStore

	store   persistence.Store
	manager *persistence.Manager

	pipeline *request.Pipeline
	cache    *pendingcache.Cache

	network    *netdelegate.Network
	transition *epoch.Transition

	engines map[consensus.ChainKind]*consensus.Engine

	microBatcher *singleSlotBatcher
	epochBatcher *singleSlotBatcher

	admission *admission.Server
	callback  *callback.Poster

	log log.Logger
}

// New constructs a Node from cfg and secretKey (this delegate's BLS
// signing key) over store. It does not open any socket or start any
// goroutine; call Run for that.
func New(cfg *config.Config, secretKey *bls.SecretKey, store persistence.Store) (*Node, error) {
	if _, ok := cfg.Self(); !ok {
		return nil, fmt.Errorf("node: delegate_id %d not present in configured delegates", cfg.DelegateID)
	}

	keyStore := bls.NewKeyStore()
	keyStore.OnPublicKey(cfg.DelegateID, secretKey.PublicKey())

	manager := persistence.NewManager(store)
	pipeline := request.NewPipeline(manager, cfg.DelegateID, manager.EpochNum(), time.Now)

	nodeLog := log.New("module", "node", "delegate", cfg.DelegateID)
	poster := callback.New(callbackURL(cfg))

	// A block resolved through the pending cache (gossiped or pulled
	// in) commits here; a block this engine itself drove to PostCommit
	// commits through markingApplier below instead. Both paths end at
	// manager.Apply exactly once.
	cache := pendingcache.New(func(e *pendingcache.Entry) {
		if err := manager.Apply(e.Kind, e.Proposal); err != nil {
			nodeLog.Error("failed to apply released block", "kind", e.Kind, "digest", e.Digest, "err", err)
			return
		}
		if rp, ok := e.Proposal.(consensus.RequestProposal); ok {
			poster.PostRequestBlock(context.Background(), rp.Block)
		}
	})

	engines := make(map[consensus.ChainKind]*consensus.Engine)
	var blockSource netdelegate.BlockSource = manager
	network := netdelegate.NewNetwork(cfg.DelegateID, engines, keyStore, blockSource)

	current := electedDelegateSet(cfg.Delegates)
	selfAddr := delegateAddress(cfg.DelegateID)
	transition := epoch.New(selfAddr, manager.EpochNum(), current)

	stakes := stakeTable(cfg.Delegates)
	primaryFor := roundRobinPrimary(cfg.Delegates)

	n := &Node{
		cfg:          cfg,
		selfKey:      secretKey,
		keyStore:     keyStore,
		store:        store,
		manager:      manager,
		pipeline:     pipeline,
		cache:        cache,
		network:      network,
		transition:   transition,
		engines:      engines,
		microBatcher: newSingleSlotBatcher(consensus.ChainMicro),
		epochBatcher: newSingleSlotBatcher(consensus.ChainEpoch),
		callback:     poster,
		log:          nodeLog,
	}

	applier := &markingApplier{manager: manager, cache: cache, callback: poster}

	for _, kind := range []consensus.ChainKind{consensus.ChainRequest, consensus.ChainMicro, consensus.ChainEpoch} {
		var batcher consensus.Batcher
		switch kind {
		case consensus.ChainRequest:
			batcher = pipeline
		case consensus.ChainMicro:
			batcher = n.microBatcher
		case consensus.ChainEpoch:
			batcher = n.epochBatcher
		}
		engines[kind] = consensus.NewEngine(consensus.EngineConfig{
			Kind:       kind,
			SelfID:     cfg.DelegateID,
			Stakes:     stakes,
			Keys:       keyStore,
			SelfKey:    secretKey,
			Validator:  manager,
			Applier:    applier,
			Batcher:    batcher,
			Transport:  network,
			PrimaryFor: primaryFor,
		})
	}

	cache.OnMissing(func(kind consensus.ChainKind, dependsOn chain.Hash) {
		for _, d := range cfg.Delegates {
			if d.ID == cfg.DelegateID {
				continue
			}
			network.RequestBlock(d.ID, kind, dependsOn)
			break
		}
	})
	network.OnPullResponse(func(kind consensus.ChainKind, digest chain.Hash, p consensus.Proposal, found bool) {
		if !found {
			return
		}
		cache.Add(&pendingcache.Entry{
			Kind:      kind,
			Epoch:     p.Epoch(),
			Digest:    digest,
			DependsOn: p.Previous(),
			Proposal:  p,
		})
	})

	n.admission = admission.NewServer(pipeline, transition)

	return n, nil
}

// markingApplier commits a post-committed proposal and records it as
// released in the pending-block cache, so a later block that names it
// as a dependency (arriving over gossip, or as the answer to a pull
// request) resolves immediately instead of waiting on the cache to see
// its own local release path.
type markingApplier struct {
	manager  *persistence.Manager
	cache    *pendingcache.Cache
	callback *callback.Poster
}

func (a *markingApplier) Apply(kind consensus.ChainKind, p consensus.Proposal) error {
	if err := a.manager.Apply(kind, p); err != nil {
		return err
	}
	a.cache.MarkReleased(p.Digest(), p.Epoch())
	if kind == consensus.ChainRequest {
		if rp, ok := p.(consensus.RequestProposal); ok {
			a.callback.PostRequestBlock(context.Background(), rp.Block)
		}
	}
	return nil
}

// Run starts the node's network listener, dials configured peers, and
// drives the admission HTTP server and periodic block generation until
// ctx is cancelled or a supervised task returns a fatal error.
func (n *Node) Run(ctx context.Context) error {
	self, _ := n.cfg.Self()

	g, ctx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", n.cfg.LocalAddress, self.PeerPort))
	if err != nil {
		return fmt.Errorf("node: listen on %s:%d: %w", n.cfg.LocalAddress, self.PeerPort, err)
	}
	g.Go(func() error { return n.acceptLoop(ctx, g, ln) })

	for _, d := range n.cfg.Delegates {
		if d.ID >= n.cfg.DelegateID {
			continue
		}
		d := d
		g.Go(func() error { return n.dialWithRetry(ctx, g, d) })
	}

	admAddr := fmt.Sprintf("%s:%d", n.cfg.LocalAddress, n.cfg.TxAcceptor.JSONPort)
	admSrv := &netHTTPServer{addr: admAddr, handler: n.admission.Handler()}
	g.Go(func() error { return admSrv.Run(ctx) })

	g.Go(func() error { return n.runMicroBlockLoop(ctx) })

	<-ctx.Done()
	ln.Close()
	return g.Wait()
}

func (n *Node) acceptLoop(ctx context.Context, g *errgroup.Group, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if err := netdelegate.AcceptAndBind(g, n.network, n.cfg.DelegateID, n.transition.Connection(), c); err != nil {
			n.log.Warn("rejected inbound delegate connection", "err", err)
		}
	}
}

func (n *Node) dialWithRetry(ctx context.Context, g *errgroup.Group, d config.Delegate) error {
	addr := fmt.Sprintf("%s:%d", d.IP, d.PeerPort)
	for {
		err := netdelegate.DialAndBind(g, n.network, d.ID, addr, n.cfg.DelegateID, n.transition.Connection())
		if err == nil {
			return nil
		}
		n.log.Debug("dial failed, retrying", "delegate", d.ID, "addr", addr, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// runMicroBlockLoop periodically cuts a MicroBlock pinning every
// delegate's current R-tip and hands it to the micro-chain engine's
// batcher, the way §3's micro-block interval is driven in practice: a
// timer, not a message.
func (n *Node) runMicroBlockLoop(ctx context.Context) error {
	interval := n.cfg.MicroblockInterval()
	if interval <= 0 {
		interval = chain.MicroBlockInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			block := &chain.MicroBlock{
				Previous:  n.manager.MicroTip().Digest,
				Epoch:     n.manager.EpochNum(),
				Sequence:  n.manager.MicroSeq(),
				Timestamp: now,
				Tips:      n.manager.RequestTips(),
			}
			n.microBatcher.Fill(consensus.MicroProposal{Block: block})
			if engine, ok := n.engines[consensus.ChainMicro]; ok {
				if err := engine.Propose(block.Epoch, block.Sequence); err != nil {
					n.log.Debug("micro block proposal not sent", "err", err)
				}
			}
		}
	}
}

// singleSlotBatcher implements consensus.Batcher for a chain kind whose
// proposals are produced by a timer rather than an admission pipeline
// (MicroBlock, EpochBlock): it holds at most one pending proposal.
type singleSlotBatcher struct {
	kind    consensus.ChainKind
	pending chan consensus.Proposal
}

func newSingleSlotBatcher(kind consensus.ChainKind) *singleSlotBatcher {
	return &singleSlotBatcher{kind: kind, pending: make(chan consensus.Proposal, 1)}
}

// Fill stores p if the slot is empty; otherwise it is dropped, since a
// new cut at the same sequence would be redundant with the one already
// queued for proposal.
func (b *singleSlotBatcher) Fill(p consensus.Proposal) {
	select {
	case b.pending <- p:
	default:
	}
}

func (b *singleSlotBatcher) NextProposal(kind consensus.ChainKind) (consensus.Proposal, bool) {
	if kind != b.kind {
		return nil, false
	}
	select {
	case p := <-b.pending:
		return p, true
	default:
		return nil, false
	}
}

func (b *singleSlotBatcher) Restore(kind consensus.ChainKind, p consensus.Proposal) {
	if kind != b.kind {
		return
	}
	b.Fill(p)
}

// delegateAddress derives a placeholder account address for a delegate
// id. This core has no staking/governance registry mapping delegate ids
// to funded accounts (out of scope here; see DESIGN.md) — the low byte
// of the address is the delegate id, which is enough to keep
// epoch.Transition's role computations, keyed by address, consistent
// for a single process's own view of the set.
func delegateAddress(id uint8) chain.Address {
	var a chain.Address
	a[len(a)-1] = id
	return a
}

func electedDelegateSet(delegates []config.Delegate) [chain.NumDelegates]chain.ElectedDelegate {
	var set [chain.NumDelegates]chain.ElectedDelegate
	for _, d := range delegates {
		if int(d.ID) >= len(set) {
			continue
		}
		set[d.ID] = chain.ElectedDelegate{Account: delegateAddress(d.ID), Weight: 1, Stake: 1}
	}
	return set
}

func stakeTable(delegates []config.Delegate) consensus.StakeTable {
	t := make(consensus.StakeTable, len(delegates))
	for _, d := range delegates {
		t[d.ID] = 1
	}
	return t
}

// roundRobinPrimary rotates the primary proposer through the configured
// delegate ids, ordered by id, advancing one slot per sequence number;
// each epoch shifts the starting slot by one (slot = (epoch+sequence)
// mod the delegate count).
func roundRobinPrimary(delegates []config.Delegate) func(epoch, sequence uint32) uint8 {
	ids := make([]uint8, len(delegates))
	for i, d := range delegates {
		ids[i] = d.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return func(epoch, sequence uint32) uint8 {
		if len(ids) == 0 {
			return 0
		}
		return ids[(epoch+sequence)%uint32(len(ids))]
	}
}

func callbackURL(cfg *config.Config) string {
	if !cfg.HasCallback() {
		return ""
	}
	return cfg.CallbackURL()
}

// netHTTPServer adapts http.Server's blocking ListenAndServe into the
// errgroup-friendly shape Run's other tasks use: return nil on a clean
// shutdown triggered by ctx, the underlying error otherwise.
type netHTTPServer struct {
	addr    string
	handler http.Handler
}

func (s *netHTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.handler}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
