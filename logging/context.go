package logging

import (
	"context"
)

type frameKeyType int

const frameKeyID = frameKeyType(iota)

// WithFrame returns a new context tagged with the frame sequence number currently being
// processed. Context-aware log calls (`CDebugw`, `CWarnw`) append it as a "frame" field.
func WithFrame(ctx context.Context, seq uint64) context.Context {
	return context.WithValue(ctx, frameKeyID, seq)
}

// FrameFromContext returns the frame sequence number attached with WithFrame.
func FrameFromContext(ctx context.Context) (uint64, bool) {
	seq, ok := ctx.Value(frameKeyID).(uint64)
	return seq, ok
}

func ctxFields(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	if seq, ok := FrameFromContext(ctx); ok {
		return []interface{}{"frame", seq}
	}
	return nil
}
