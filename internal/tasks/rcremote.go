package tasks

import (
	"context"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/rc"
)

// RcRemoteTask decodes receiver pulses into flight commands.
type RcRemoteTask struct {
	decoder *rc.Decoder
}

func NewRcRemoteTask(d *rc.Decoder) *RcRemoteTask {
	return &RcRemoteTask{decoder: d}
}

func (r *RcRemoteTask) Name() string { return "rcremote" }

func (r *RcRemoteTask) Priority() int { return config.PriorityRcDecode }

// Period is zero: Step blocks for at most the decoder timeout.
func (r *RcRemoteTask) Period() time.Duration { return 0 }

func (r *RcRemoteTask) Init(context.Context) error { return nil }

func (r *RcRemoteTask) Run(ctx context.Context) error { return r.decoder.Step(ctx) }
