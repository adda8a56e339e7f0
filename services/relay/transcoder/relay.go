// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/ella/services/relay/datatypes"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"
)

// DefaultHeartbeatInterval is the keep-alive period of a downstream stream.
const DefaultHeartbeatInterval = 15 * time.Second

const readChunkSize = 4096

// Options tunes one Relay call.
type Options struct {
	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// OnDelta, when set, runs after each token frame with the running count.
	OnDelta func(count int)

	// OnKeepAlive, when set, runs after each keep-alive.
	OnKeepAlive func()
}

// Result summarizes a finished relay.
type Result struct {
	// Deltas is the number of token frames written.
	Deltas int

	// Sources is the accumulated source list sent in the metadata frame.
	Sources []string

	// Completed reports whether metadata and done were written.
	Completed bool
}

// Relay copies body to w as downstream frames.
//
// # Description
//
// Two tasks share one cancellation scope: the read loop, which decodes body
// and writes token frames, and the heartbeat, which writes a keep-alive
// every HeartbeatInterval. When body ends cleanly the heartbeat is stopped
// first, then the metadata frame (sources accumulated in acc plus
// contextText) and the done frame are written, so they are always last.
//
// On cancellation of ctx or an upstream read failure, w is closed and no
// further frames are written; the error is returned. body is closed when ctx
// is cancelled so a blocked read returns.
//
// # Inputs
//
//   - ctx: Request context; its cancellation is the client abort signal.
//   - body: Upstream event stream.
//   - w: Downstream writer. Relay closes it on every exit path.
//   - acc: Per-request source accumulator, seeded with prefetched sources.
//   - contextText: Retrieved context echoed in the metadata frame.
//   - opts: Heartbeat interval and observation hooks.
//
// # Outputs
//
//   - Result: counts and the final source list.
//   - error: ctx.Err() after cancellation, the read error, or a write error.
func Relay(
	ctx context.Context,
	body io.ReadCloser,
	w FrameWriter,
	acc *datatypes.SourceSet,
	contextText string,
	opts Options,
) (Result, error) {
	defer w.Close()

	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if acc == nil {
		acc = datatypes.NewSourceSet()
	}

	var res Result
	g, gctx := errgroup.WithContext(ctx)
	readDone := make(chan struct{})

	stopCloser := context.AfterFunc(gctx, func() { _ = body.Close() })
	defer stopCloser()

	g.Go(func() error {
		runHeartbeat(gctx, w, interval, readDone, opts.OnKeepAlive)
		return nil
	})
	g.Go(func() error {
		defer close(readDone)
		return readLoop(gctx, body, w, acc, &res, opts.OnDelta)
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Sources = acc.Values()
	if err := w.WriteMetadata(datatypes.MetadataPayload{Sources: res.Sources, Context: contextText}); err != nil {
		return res, err
	}
	if err := w.WriteDone(); err != nil {
		return res, err
	}
	res.Completed = true
	return res, nil
}

// readLoop decodes body until EOF and writes one token frame per delta.
func readLoop(
	ctx context.Context,
	body io.Reader,
	w FrameWriter,
	acc *datatypes.SourceSet,
	res *Result,
	onDelta func(int),
) error {
	var decoder LineDecoder
	buf := make([]byte, readChunkSize)

	// A chunk may carry many records; cancellation is checked per record so
	// nothing is written once ctx is done.
	handle := func(line string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := ParseLine(line)
		if !ok {
			return nil
		}
		switch rec.Kind {
		case RecordDelta:
			if err := w.WriteToken(rec.Delta); err != nil {
				return err
			}
			res.Deltas++
			if onDelta != nil {
				onDelta(res.Deltas)
			}
		case RecordSources:
			for _, f := range rec.Sources {
				acc.Add(f)
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range decoder.Feed(buf[:n]) {
				if err := handle(line); err != nil {
					return err
				}
			}
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read upstream: %w", readErr)
		}
		if tail, ok := decoder.Flush(); ok {
			return handle(tail)
		}
		return nil
	}
}

// runHeartbeat writes a keep-alive every interval until done is closed or
// ctx is cancelled. A failed or panicking tick stops the heartbeat but never
// propagates.
func runHeartbeat(
	ctx context.Context,
	w FrameWriter,
	interval time.Duration,
	done <-chan struct{},
	onKeepAlive func(),
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var writeErr error
			recovered := panics.Try(func() {
				writeErr = w.WriteKeepAlive()
				if writeErr == nil && onKeepAlive != nil {
					onKeepAlive()
				}
			})
			if recovered != nil {
				slog.Error("Heartbeat tick panicked", "error", recovered.AsError())
				return
			}
			if writeErr != nil {
				slog.Debug("Failed to write keepalive", "error", writeErr)
				return
			}
		}
	}
}
