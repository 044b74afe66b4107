// Package orchestrator runs provider syncs into the canonical store. Providers
// run one after another in registry order and types run one after another
// within a provider; one provider failing never stops the next.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/metrics"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/retry"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

// ErrSyncInProgress is returned when a run is triggered while another is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncResult is the outcome of one provider run.
type SyncResult struct {
	Provider          string                 `json:"provider"`
	Success           bool                   `json:"success"`
	ItemsSynced       int                    `json:"itemsSynced"`
	TransformFailures int                    `json:"transformFailures"`
	PerType           map[model.ItemType]int `json:"perType"`
	Errors            []string               `json:"errors"`
	DurationMS        int64                  `json:"durationMs"`
	Bytes             int64                  `json:"bytes"`
}

// Options narrows a run.
type Options struct {
	// Types limits the run to these types. Empty means every supported type.
	Types    []model.ItemType
	Progress ProgressFunc
}

func (o Options) wants(t model.ItemType) bool {
	if len(o.Types) == 0 {
		return true
	}
	for _, w := range o.Types {
		if w == t {
			return true
		}
	}
	return false
}

// Orchestrator drives provider syncs.
type Orchestrator struct {
	registry   *providers.Registry
	store      store.Store
	svc        *compendium.Service
	log        zerolog.Logger
	storeRetry retry.Options
	now        func() time.Time

	running atomic.Bool

	mu        sync.RWMutex
	last      map[string]SyncResult
	lastRunAt time.Time
}

// New builds an Orchestrator over the registry's providers.
func New(reg *providers.Registry, st store.Store, svc *compendium.Service, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		store:    st,
		svc:      svc,
		log:      log,
		storeRetry: retry.Options{
			MaxRetries: retry.DBMaxRetries,
			BaseDelay:  retry.DBBaseDelay,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			},
		},
		now:  time.Now,
		last: make(map[string]SyncResult),
	}
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// LastResults returns the results recorded by the most recent runs, per provider.
func (o *Orchestrator) LastResults() (map[string]SyncResult, time.Time) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]SyncResult, len(o.last))
	for k, v := range o.last {
		out[k] = v
	}
	return out, o.lastRunAt
}

// RunFullSync syncs every enabled provider, then purges rows of sources that
// are no longer enabled.
func (o *Orchestrator) RunFullSync(ctx context.Context, opts Options) (map[string]SyncResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.running.Store(false)

	start := o.now()
	rep := reporter{fn: opts.Progress, log: o.log}
	results := make(map[string]SyncResult)
	changed := false

	for _, p := range o.registry.Enabled() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := o.syncProvider(ctx, p, opts, rep)
		results[p.ID()] = res
		if res.ItemsSynced > 0 || res.Success {
			changed = true
		}
	}

	keep := append(o.registry.EnabledIDs(), model.SourceLocal)
	purged, err := o.store.Items().PurgeSources(ctx, keep)
	if err != nil {
		o.log.Error().Err(err).Strs("keep", keep).Msg("purge of disabled sources failed")
	} else if len(purged) > 0 {
		changed = true
		if err := o.svc.ApplyPurge(ctx, purged); err != nil {
			o.log.Warn().Err(err).Int("rows", len(purged)).Msg("index cleanup after purge failed; rebuild to repair")
		}
		o.log.Info().Int("rows", len(purged)).Strs("keep", keep).Msg("purged rows of disabled sources")
	}

	if changed {
		o.svc.BumpVersion("")
	}
	o.record(results)
	o.logSummary(results, o.now().Sub(start))
	return results, nil
}

// RunProviderSync syncs a single registered provider, enabled or not.
func (o *Orchestrator) RunProviderSync(ctx context.Context, id string, opts Options) (SyncResult, error) {
	p, ok := o.registry.Get(id)
	if !ok {
		return SyncResult{}, fmt.Errorf("%w: provider %q", model.ErrNotFound, id)
	}
	if !o.running.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer o.running.Store(false)

	start := o.now()
	res := o.syncProvider(ctx, p, opts, reporter{fn: opts.Progress, log: o.log})
	if res.ItemsSynced > 0 || res.Success {
		o.svc.BumpVersion("")
	}
	results := map[string]SyncResult{p.ID(): res}
	o.record(results)
	o.logSummary(results, o.now().Sub(start))
	return res, nil
}

func (o *Orchestrator) syncProvider(ctx context.Context, p providers.Provider, opts Options, rep reporter) (res SyncResult) {
	start := o.now()
	log := o.log.With().Str("provider", p.ID()).Logger()
	res = SyncResult{Provider: p.ID(), PerType: make(map[model.ItemType]int), Errors: []string{}}
	rep.emit(Event{Provider: p.ID(), Status: StatusStarting})

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("provider sync panicked")
			res.Errors = append(res.Errors, fmt.Sprintf("panic: %v", r))
		}
		res.Success = len(res.Errors) == 0
		elapsed := o.now().Sub(start)
		res.DurationMS = elapsed.Milliseconds()
		metrics.SyncDuration.WithLabelValues(p.ID()).Observe(elapsed.Seconds())
		o.writeMetadata(ctx, p.ID(), opts, res)

		final := Event{Provider: p.ID(), Status: StatusComplete, ItemsProcessed: res.ItemsSynced, TotalItems: res.ItemsSynced}
		if !res.Success {
			final.Status = StatusError
			final.Error = strings.Join(res.Errors, "; ")
		}
		rep.emit(final)
		log.Info().Int("items", res.ItemsSynced).Int("errors", len(res.Errors)).Int64("duration_ms", res.DurationMS).Msg("provider sync finished")
	}()

	for _, t := range p.SupportedTypes() {
		if !opts.wants(t) {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		tr, err := o.syncType(ctx, p, t, rep)
		res.Bytes += tr.bytes
		res.TransformFailures += tr.failures
		if err != nil {
			msg := fmt.Sprintf("sync %s: %v", t, err)
			res.Errors = append(res.Errors, msg)
			metrics.SyncErrorsTotal.WithLabelValues(p.ID()).Inc()
			log.Error().Err(err).Str("type", string(t)).Msg("type sync failed; prior rows kept")
			rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusError, Error: err.Error()})
			continue
		}
		res.PerType[t] = tr.saved
		res.ItemsSynced += tr.saved
	}
	return res
}

type typeResult struct {
	saved    int
	failures int
	bytes    int64
}

// syncType fetches every page of t before touching the store, so a failed
// page leaves the previous rows of (t, provider) untouched.
func (o *Orchestrator) syncType(ctx context.Context, p providers.Provider, t model.ItemType, rep reporter) (typeResult, error) {
	var tr typeResult
	var raws []providers.RawRecord

	rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusFetching})
	err := p.FetchAll(ctx, t, func(page []providers.RawRecord) error {
		raws = append(raws, page...)
		if b, err := json.Marshal(page); err == nil {
			tr.bytes += int64(len(b))
		}
		rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusFetching, ItemsProcessed: len(raws)})
		return nil
	})
	if err != nil {
		return tr, fmt.Errorf("fetch: %w", err)
	}

	items, failures := o.transform(p, t, raws, rep)
	tr.failures = failures

	rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusSaving, ItemsProcessed: 0, TotalItems: len(items)})
	replaced, err := retry.Do(ctx, func(ctx context.Context) (store.ReplaceResult, error) {
		return o.store.Items().ReplaceTypeSource(ctx, t, p.ID(), items)
	}, o.storeRetry)
	if err != nil {
		return tr, err
	}
	if err := o.svc.ApplyReplace(ctx, t, replaced); err != nil {
		o.log.Warn().Err(err).Str("provider", p.ID()).Str("type", string(t)).Msg("index update failed; rebuild to repair")
	}

	tr.saved = len(replaced.Items)
	metrics.SyncItemsTotal.WithLabelValues(p.ID(), string(t)).Add(float64(tr.saved))
	rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusComplete, ItemsProcessed: tr.saved, TotalItems: len(raws)})
	return tr, nil
}

// transform maps raws to canonical items, keeping the first occurrence of each
// external id. Failed records are logged and counted.
func (o *Orchestrator) transform(p providers.Provider, t model.ItemType, raws []providers.RawRecord, rep reporter) ([]model.NormalizedItem, int) {
	items := make([]model.NormalizedItem, 0, len(raws))
	seen := make(map[string]bool, len(raws))
	failures := 0

	rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusTransforming, TotalItems: len(raws)})
	for i, raw := range raws {
		it, err := p.Transform(raw, t)
		switch {
		case err != nil:
			failures++
			metrics.TransformFailuresTotal.WithLabelValues(p.ID(), string(t)).Inc()
			o.log.Warn().Err(err).Str("provider", p.ID()).Str("type", string(t)).Int("index", i).Msg("record skipped")
		case seen[it.ExternalID]:
			o.log.Debug().Str("provider", p.ID()).Str("external_id", it.ExternalID).Msg("duplicate record skipped")
		default:
			seen[it.ExternalID] = true
			items = append(items, it)
		}
		if i > 0 && i%TransformProgressInterval == 0 {
			rep.emit(Event{Provider: p.ID(), Type: t, Status: StatusTransforming, ItemsProcessed: i, TotalItems: len(raws)})
		}
	}
	return items, failures
}

func (o *Orchestrator) writeMetadata(ctx context.Context, id string, opts Options, res SyncResult) {
	meta := model.SyncMetadata{
		ProviderID:   id,
		LastSyncAt:   o.now().UTC(),
		LastSyncType: model.SyncFull,
		ItemsSynced:  res.ItemsSynced,
	}
	if len(opts.Types) > 0 {
		meta.LastSyncType = model.SyncIncremental
	}
	if len(res.Errors) > 0 {
		meta.LastError = strings.Join(res.Errors, "; ")
	}
	// the run context may already be cancelled; the outcome is still recorded
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := retry.Run(wctx, func(ctx context.Context) error {
		return o.store.SyncMetadata().Upsert(ctx, meta)
	}, o.storeRetry)
	if err != nil {
		o.log.Error().Err(err).Str("provider", id).Msg("sync metadata write failed")
	}
}

func (o *Orchestrator) record(results map[string]SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range results {
		o.last[k] = v
	}
	o.lastRunAt = o.now()
}

func (o *Orchestrator) logSummary(results map[string]SyncResult, elapsed time.Duration) {
	var items, errs int
	var bytes int64
	var failed []string
	for id, r := range results {
		items += r.ItemsSynced
		bytes += r.Bytes
		errs += len(r.Errors)
		if len(r.Errors) > 0 {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	o.log.Info().
		Dur("duration", elapsed).
		Int("items", items).
		Int64("approx_bytes", bytes).
		Strs("providers_with_errors", failed).
		Int("errors", errs).
		Msg("sync run complete")
}
