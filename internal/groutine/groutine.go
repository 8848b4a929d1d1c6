package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"

	"github.com/cornelk/hashmap"
	"github.com/srg/btwiz/internal/device"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go runs fn on a new goroutine whose pprof labels and context both carry
// name, so GetName(ctx) inside fn returns it. A nil parentCtx is treated as
// context.Background().
//
//	groutine.Go(ctx, "connect-AA:BB:CC:DD:EE:FF", func(ctx context.Context) {
//	    // blocking connect
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName returns the name Go stored in ctx, or "" when there is none.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID parses the calling goroutine's numeric ID from its stack header.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}

// restricted holds the IDs of goroutines that must never block on radio I/O,
// typically an application's UI or event-loop goroutine.
var restricted = hashmap.New[uint64, struct{}]()

// MarkRestricted flags the calling goroutine as latency sensitive. Blocking
// btwiz calls made from it fail with device.ErrRestrictedContext.
// The returned func removes the mark.
func MarkRestricted() (unmark func()) {
	gid := GetGID()
	restricted.Set(gid, struct{}{})
	return func() { restricted.Del(gid) }
}

// IsRestricted reports whether the calling goroutine was marked with MarkRestricted.
func IsRestricted() bool {
	if restricted.Len() == 0 {
		return false
	}
	_, ok := restricted.Get(GetGID())
	return ok
}

// CheckBlocking returns device.ErrRestrictedContext when the calling goroutine
// is restricted; op names the blocking call in the error.
func CheckBlocking(op string) error {
	if !IsRestricted() {
		return nil
	}
	return &device.Error{Kind: device.RestrictedContext, Msg: op + " called from a restricted goroutine"}
}
