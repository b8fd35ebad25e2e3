package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/recordtypes"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

// Reconciler runs the periodic reconciliation tick named in §4.1 as "a
// periodic reconciliation tick as the safety net" and promoted to a
// first-class operation by SPEC_FULL §5. Beyond the in-memory
// heartbeat-expiry sweep, it re-derives ownership from the `:instances`
// set and `:instance:<id>` keys directly (bypassing pub/sub) so a missed
// instanceStarted/instanceStopped broadcast self-heals within one period.
type Reconciler struct {
	engine    *Engine
	transport *rtransport.Transport
	ttl       time.Duration
	period    time.Duration
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconciler builds a reconciler. ttl and period are used as given
// (there are no defaults); the instance façade passes the 3s heartbeat
// expiry from §4.2 and a 5s period.
func NewReconciler(engine *Engine, transport *rtransport.Transport, ttl, period time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		engine:    engine,
		transport: transport,
		ttl:       ttl,
		period:    period,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs the sweep on its own goroutine until ctx is cancelled or
// Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

func (r *Reconciler) sweep(ctx context.Context) {
	expired := r.engine.ExpireStalePeers(r.ttl)
	for _, id := range expired {
		r.logger.Info("reconciler evicted stale peer", zap.String("instanceId", id))
	}

	r.reconcileFromRedis(ctx)
}

// reconcileFromRedis re-derives peer state directly from `:instances` +
// `:instance:<id>`, bypassing pub/sub entirely. It covers two cases from
// §7: StaleInstance (a set member whose registration key already expired
// gets dropped from the set) and a missed instanceStopped broadcast (a
// peer this instance still tracks but that the fleet set no longer
// lists).
func (r *Reconciler) reconcileFromRedis(ctx context.Context) {
	if r.transport == nil {
		return
	}

	ids, err := r.transport.KnownInstanceIDs(ctx)
	if err != nil {
		r.logger.Warn("reconciler failed to list known instances", zap.Error(err))
		return
	}

	seen := make(map[string]struct{}, len(ids))
	selfID := r.engine.SelfID()

	for _, id := range ids {
		if id == selfID {
			seen[id] = struct{}{}
			continue
		}

		payload, err := r.transport.GetInstance(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if remErr := r.transport.RemoveStaleInstance(ctx, id); remErr != nil {
					r.logger.Warn("reconciler failed to remove stale instance", zap.String("instanceId", id), zap.Error(remErr))
					continue
				}
				r.logger.Info("reconciler removed stale instance set member", zap.String("instanceId", id))
				continue
			}
			r.logger.Warn("reconciler failed to fetch instance", zap.String("instanceId", id), zap.Error(err))
			continue
		}

		var inst recordtypes.Instance
		if err := json.Unmarshal(payload, &inst); err != nil {
			r.logger.Warn("reconciler failed to decode instance payload", zap.String("instanceId", id), zap.Error(err))
			continue
		}

		seen[id] = struct{}{}
		r.engine.ObservePeer(inst)
	}

	for _, id := range r.engine.KnownPeerIDs() {
		if id == selfID {
			continue
		}
		if _, ok := seen[id]; !ok {
			r.logger.Info("reconciler healed missed instanceStopped", zap.String("instanceId", id))
			r.engine.ObserveStopped(id)
		}
	}
}

// Stop halts the sweep and waits for the goroutine to exit.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
