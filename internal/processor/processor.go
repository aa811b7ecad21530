package processor

import (
	"context"
	"errors"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"lecca.io/axelar-watchtower/internal/ampd"
	"lecca.io/axelar-watchtower/internal/classifier"
	"lecca.io/axelar-watchtower/internal/evm"
	"lecca.io/axelar-watchtower/internal/heartbeat"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/lookup"
	"lecca.io/axelar-watchtower/internal/signing"
	"lecca.io/axelar-watchtower/internal/state"
	"lecca.io/axelar-watchtower/internal/types"
)

type StateBroadcaster interface {
	BroadcastUpdate()
}

// Resolver fetches transaction details with bounded retries.
type Resolver interface {
	Resolve(ctx context.Context, hash string) lookup.Result
}

// Trackers bundles the per-concern state machines. EVM and AMPD are nil when disabled.
type Trackers struct {
	Signing   *signing.Tracker
	Heartbeat *heartbeat.Tracker
	EVM       *evm.Tracker
	AMPD      *ampd.Tracker
}

type Options struct {
	// Workers caps concurrent detail lookups.
	Workers   int
	DedupSize int
}

// resolution carries a finished detail lookup back onto the processor goroutine.
type resolution struct {
	match  classifier.Match
	result lookup.Result
}

func (resolution) Kind() types.EventKind { return types.KindResolution }

// Processor owns the trackers. Every mutation happens on the goroutine running Start.
type Processor struct {
	params      classifier.Params
	trackers    Trackers
	resolver    Resolver
	store       *state.Store
	inbox       chan types.Event
	broadcaster StateBroadcaster

	seenBlocks *lru.Cache[int64, struct{}]
	seenTxs    *lru.Cache[string, struct{}]

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewProcessor(params classifier.Params, trackers Trackers, resolver Resolver, store *state.Store, inbox chan types.Event, broadcaster StateBroadcaster, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = 1024
	}
	seenBlocks, _ := lru.New[int64, struct{}](opts.DedupSize)
	seenTxs, _ := lru.New[string, struct{}](opts.DedupSize)

	p := &Processor{
		params:      params,
		trackers:    trackers,
		resolver:    resolver,
		store:       store,
		inbox:       inbox,
		broadcaster: broadcaster,
		seenBlocks:  seenBlocks,
		seenTxs:     seenTxs,
		sem:         make(chan struct{}, opts.Workers),
	}
	p.seed()
	return p
}

// seed publishes the placeholder record lists so readers see every chain from the start.
func (p *Processor) seed() {
	if p.trackers.EVM != nil {
		for _, rec := range p.trackers.EVM.All() {
			p.store.SetChainRecords(rec)
		}
	}
	if p.trackers.AMPD != nil {
		for _, rec := range p.trackers.AMPD.All() {
			p.store.SetChainRecords(rec)
		}
	}
}

// Start consumes the inbox until ctx ends, then waits for in-flight lookups.
func (p *Processor) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case ev := <-p.inbox:
			if ev == nil {
				continue
			}
			if p.handle(ctx, ev) && p.broadcaster != nil {
				p.broadcaster.BroadcastUpdate()
			}
		}
	}
}

// handle applies one event and reports whether the snapshot changed. A panic is
// logged and the event dropped.
func (p *Processor) handle(ctx context.Context, ev types.Event) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("PROC", "Recovered while handling %s event: %v", ev.Kind(), r)
			changed = false
		}
	}()

	switch e := ev.(type) {
	case types.NewBlock:
		return p.processBlock(e)
	case types.Vote:
		return p.processVote(e)
	case types.Tx:
		return p.processTx(ctx, e)
	case resolution:
		return p.applyResolution(e)
	}
	logger.Debug("PROC", "Ignoring event of kind %s", ev.Kind())
	return false
}

func (p *Processor) processBlock(b types.NewBlock) bool {
	if seen, _ := p.seenBlocks.ContainsOrAdd(b.Height, struct{}{}); seen {
		logger.Debug("PROC", "Duplicate block #%d dropped", b.Height)
		return false
	}

	p.store.SetHeight(b.Height, b.Time)
	p.store.ApplyBlock(p.trackers.Signing.ApplyBlock(b))
	if u, ok := p.trackers.Heartbeat.ApplyBlock(b.Height); ok {
		p.store.ApplyHeartbeat(u)
	}
	return true
}

func (p *Processor) processVote(v types.Vote) bool {
	u, ok := p.trackers.Signing.ApplyVote(v)
	if !ok {
		return false
	}
	p.store.ApplyBlock(u)
	return true
}

func (p *Processor) processTx(ctx context.Context, tx types.Tx) bool {
	if tx.Hash != "" {
		if seen, _ := p.seenTxs.ContainsOrAdd(strings.ToUpper(tx.Hash), struct{}{}); seen {
			logger.Debug("PROC", "Duplicate tx %s dropped", tx.Hash)
			return false
		}
	}

	changed := false
	for _, m := range classifier.Classify(tx, p.params) {
		if p.applyMatch(ctx, m) {
			changed = true
		}
	}
	return changed
}

func (p *Processor) applyMatch(ctx context.Context, m classifier.Match) bool {
	switch m.Kind {
	case classifier.Heartbeat:
		u, ok := p.trackers.Heartbeat.ApplyHeartbeat(m.Height)
		if ok {
			p.store.ApplyHeartbeat(u)
		}
		return ok

	case classifier.EVMPollStarted:
		if p.trackers.EVM == nil {
			return false
		}
		rec, ok := p.trackers.EVM.ApplyPollStarted(m)
		if !ok {
			return false
		}
		p.store.SetChainRecords(rec)
		p.store.SetLastGlobalPollID(p.trackers.EVM.LastGlobalPollID())
		return true

	case classifier.EVMVoteCast:
		if p.trackers.EVM != nil {
			p.lookup(ctx, m)
		}
		return false

	case classifier.AMPDPollStarted, classifier.AMPDSigningStarted, classifier.AMPDSignatureSubmitted:
		if p.trackers.AMPD == nil {
			return false
		}
		rec, err := p.trackers.AMPD.Apply(m)
		if err != nil {
			logger.Debug("PROC", "AMPD %s %s not applied: %v", m.Kind, m.ID, err)
			return false
		}
		p.store.SetChainRecords(rec)
		return true

	case classifier.AMPDVoteSubmitted:
		if p.trackers.AMPD != nil {
			p.lookup(ctx, m)
		}
		return false
	}
	return false
}

// lookup fetches the match's transaction off the processor goroutine and posts the
// outcome back into the inbox.
func (p *Processor) lookup(ctx context.Context, m classifier.Match) {
	if p.resolver == nil || m.TxHash == "" {
		logger.Warn("PROC", "Cannot resolve %s %s: no lookup client or tx hash", m.Kind, m.ID)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		res := p.resolver.Resolve(ctx, m.TxHash)
		<-p.sem

		select {
		case p.inbox <- resolution{match: m, result: res}:
		case <-ctx.Done():
		}
	}()
}

func (p *Processor) applyResolution(r resolution) bool {
	m := r.match
	if !r.result.Resolved() {
		logger.Warn("PROC", "%s %s left outstanding after %d lookup attempt(s): %v", m.Kind, m.ID, r.result.Attempts, r.result.Err)
		return false
	}

	var (
		rec types.ChainRecords
		err error
	)
	switch m.Kind {
	case classifier.EVMVoteCast:
		var status, chain string
		status, chain, err = evm.ResolveVote(r.result.Detail, m.ID)
		if err == nil {
			rec, err = p.trackers.EVM.UpdatePollStatus(m.ID, status, chain)
		}
	case classifier.AMPDVoteSubmitted:
		var result string
		result, err = ampd.ResolveVote(r.result.Detail, m.ID, m.Contract)
		if err == nil {
			rec, err = p.trackers.AMPD.ApplyVoteResult(m.ID, m.Contract, m.Chain, result)
		}
	default:
		return false
	}

	switch {
	case err == nil:
		p.store.SetChainRecords(rec)
		return true
	case errors.Is(err, evm.ErrAlreadyResolved), errors.Is(err, ampd.ErrAlreadyResolved):
		logger.Debug("PROC", "%s %s: %v", m.Kind, m.ID, err)
	default:
		logger.Warn("PROC", "%s %s in tx %s not applied: %v", m.Kind, m.ID, m.TxHash, err)
	}
	return false
}
