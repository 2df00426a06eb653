// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kortschak/reel/internal/animation"
)

// produce decodes src once and then sends its frames to out in order,
// cyclically, until released is closed or ctx is cancelled. out is closed
// when produce returns, so a failed decode is observed by the consumer as
// a closed channel.
func produce(ctx context.Context, id uuid.UUID, src *animation.Source, out chan<- animation.Frame, released <-chan struct{}, log *slog.Logger) {
	defer close(out)

	// Frames are decoded once and replayed from memory
	// for the life of the task.
	frames, err := animation.Decode(ctx, src)
	if err != nil {
		if ctx.Err() == nil {
			log.LogAttrs(ctx, slog.LevelError, "cannot decode video",
				slog.String("id", id.String()),
				slog.String("label", src.Label),
				slog.String("codec", src.Codec.String()),
				slog.Any("error", err),
			)
		}
		return
	}
	if len(frames) == 0 {
		log.LogAttrs(ctx, slog.LevelError, "cannot decode video",
			slog.String("id", id.String()),
			slog.String("label", src.Label),
			slog.Any("error", animation.ErrNoFrames),
		)
		return
	}
	log.LogAttrs(ctx, slog.LevelDebug, "decoded video",
		slog.String("id", id.String()),
		slog.String("label", src.Label),
		slog.Int("frames", len(frames)),
	)

	for {
		for _, f := range frames {
			// No send may succeed after release, even
			// when the buffer has room.
			select {
			case <-released:
				return
			case <-ctx.Done():
				return
			default:
			}
			select {
			case out <- f:
			case <-released:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
