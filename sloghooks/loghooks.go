// Package sloghooks reports cache events to a log/slog logger.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/sbcache"
	"github.com/unkn0wn-root/sbcache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StaleUpdateEvery       uint64
	StaleConfirmationEvery uint64
	// LogApplied logs every applied update at debug level.
	LogApplied bool
	// Optional version redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	staleUpdateCtr  atomic.Uint64
	staleConfirmCtr atomic.Uint64
}

var _ sbcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(v sbcache.Version) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(string(v))
	}
	return util.Redact(string(v))
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StaleUpdate(list sbcache.List, have, want sbcache.Version) {
	if h.l == nil || !sample(h.opts.StaleUpdateEvery, &h.staleUpdateCtr) {
		return
	}
	h.l.Debug("sbcache.stale_update",
		"list", string(list),
		"have", h.redact(have),
		"want", h.redact(want))
}

func (h *Hooks) UpdateRejected(list sbcache.List, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("sbcache.update_rejected",
		"list", string(list),
		"reason", reason)
}

func (h *Hooks) UpdateApplied(list sbcache.List, version sbcache.Version, full bool, prefixes int) {
	if h.l == nil || !h.opts.LogApplied {
		return
	}
	h.l.Debug("sbcache.update_applied",
		"list", string(list),
		"version", h.redact(version),
		"full", full,
		"prefixes", prefixes)
}

func (h *Hooks) Fingerprinting(list sbcache.List, prefixes int) {
	if h.l == nil {
		return
	}
	h.l.Warn("sbcache.fingerprinting",
		"list", string(list),
		"prefixes", prefixes)
}

func (h *Hooks) StaleConfirmation(list sbcache.List, version sbcache.Version) {
	if h.l == nil || !sample(h.opts.StaleConfirmationEvery, &h.staleConfirmCtr) {
		return
	}
	h.l.Debug("sbcache.stale_confirmation",
		"list", string(list),
		"version", h.redact(version))
}

func (h *Hooks) PersistError(op string, list sbcache.List, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("sbcache.persist_error",
		"op", op,
		"list", string(list),
		"err", err)
}
