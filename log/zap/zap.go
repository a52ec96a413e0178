// Package zap adapts go.uber.org/zap to sbcache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/sbcache"
)

type Logger struct{ L *zap.Logger }

var _ sbcache.Logger = Logger{}

func New(l *zap.Logger) Logger { return Logger{L: l.Named("sbcache")} }

func (z Logger) Debug(msg string, f sbcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f sbcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f sbcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f sbcache.Fields) { z.L.Error(msg, zf(f)...) }

// zf converts fields in key order; errors keep zap's error encoding.
func zf(f sbcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
