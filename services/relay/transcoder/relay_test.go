// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transcoder

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/ella/services/relay/datatypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// =============================================================================
// Test helpers
// =============================================================================

type frame struct {
	ID    string
	Event string
	Data  string
}

// parseFrames splits writer output into frames, dropping comments.
func parseFrames(t *testing.T, out string) []frame {
	t.Helper()
	var frames []frame
	for _, block := range strings.Split(out, "\n\n") {
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var f frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				f.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.Data = strings.TrimPrefix(line, "data: ")
			default:
				t.Fatalf("unexpected line in frame: %q", line)
			}
		}
		frames = append(frames, f)
	}
	return frames
}

// lockedBuffer is a goroutine-safe io.Writer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// chunkedBody yields its chunks one Read at a time.
type chunkedBody struct {
	chunks [][]byte
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkedBody) Close() error { return nil }

const upstreamStream = "event: response.created\n" +
	"data: {\"type\":\"response.created\"}\n\n" +
	"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Blended\"}\n\n" +
	"data: {not json}\n\n" +
	"data: {\"type\":\"response.output_text.delta\",\"delta\":\" wave\"}\r\n\r\n" +
	"data: {\"type\":\"response.output_item.done\",\"item\":{\"type\":\"file_search_call\",\"results\":[{\"filename\":\"bron2.pdf\"},{\"filename\":\"bron1.pdf\"}]}}\n\n" +
	"data: {\"type\":\"response.output_text.delta\",\"delta\":\" is... één\"}\n\n" +
	"data: [DONE]\n\n"

func relayChunks(t *testing.T, chunks [][]byte) []frame {
	t.Helper()
	out := &lockedBuffer{}
	res, err := Relay(context.Background(), &chunkedBody{chunks: chunks}, NewFrameWriter(out),
		datatypes.NewSourceSet("bron1.pdf"), "ctx", Options{})
	require.NoError(t, err)
	require.True(t, res.Completed)
	return parseFrames(t, out.String())
}

// =============================================================================
// Relay
// =============================================================================

func TestRelay_FrameSequence(t *testing.T) {
	defer goleak.VerifyNone(t)

	got := relayChunks(t, [][]byte{[]byte(upstreamStream)})
	want := []frame{
		{ID: "1", Event: "token", Data: `{"delta":"Blended"}`},
		{ID: "2", Event: "token", Data: `{"delta":" wave"}`},
		{ID: "3", Event: "token", Data: `{"delta":" is... één"}`},
		{ID: "4", Event: "metadata", Data: `{"sources":["bron1.pdf","bron2.pdf"],"context":"ctx"}`},
		{ID: "5", Event: "done", Data: `{}`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestRelay_ChunkBoundaryIndependence(t *testing.T) {
	raw := []byte(upstreamStream)
	want := relayChunks(t, [][]byte{raw})

	for cut := 1; cut < len(raw); cut++ {
		got := relayChunks(t, [][]byte{raw[:cut], raw[cut:]})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("split at byte %d changed frames (-want +got):\n%s", cut, diff)
		}
	}

	oneByte := make([][]byte, len(raw))
	for i := range raw {
		oneByte[i] = raw[i : i+1]
	}
	if diff := cmp.Diff(want, relayChunks(t, oneByte)); diff != "" {
		t.Fatalf("byte-at-a-time changed frames (-want +got):\n%s", diff)
	}
}

func TestRelay_MetadataAndDoneAreLast(t *testing.T) {
	for _, deltas := range []int{0, 1, 25} {
		var sb strings.Builder
		for i := 0; i < deltas; i++ {
			sb.WriteString("data: {\"type\":\"response.output_text.delta\",\"delta\":\"x\"}\n")
		}
		frames := relayChunks(t, [][]byte{[]byte(sb.String())})

		require.Len(t, frames, deltas+2)
		assert.Equal(t, "metadata", frames[deltas].Event)
		assert.Equal(t, "done", frames[deltas+1].Event)
		for _, f := range frames[:deltas] {
			assert.Equal(t, "token", f.Event)
		}
	}
}

func TestRelay_EmptySourcesEncodeAsArray(t *testing.T) {
	out := &lockedBuffer{}
	_, err := Relay(context.Background(), io.NopCloser(strings.NewReader("")), NewFrameWriter(out), nil, "", Options{})
	require.NoError(t, err)

	frames := parseFrames(t, out.String())
	require.Len(t, frames, 2)
	assert.Equal(t, `{"sources":[]}`, frames[0].Data)
}

func TestRelay_UnterminatedFinalLine(t *testing.T) {
	frames := relayChunks(t, [][]byte{[]byte(`data: {"type":"response.output_text.delta","delta":"laatste"}`)})
	require.Len(t, frames, 3)
	assert.Equal(t, `{"delta":"laatste"}`, frames[0].Data)
}

func TestRelay_HeartbeatThenCleanFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	out := &lockedBuffer{}
	pinged := make(chan struct{}, 16)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := Relay(context.Background(), pr, NewFrameWriter(out), nil, "", Options{
			HeartbeatInterval: 5 * time.Millisecond,
			OnKeepAlive: func() {
				select {
				case pinged <- struct{}{}:
				default:
				}
			},
		})
		done <- outcome{res, err}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive written")
	}
	_, err := io.WriteString(pw, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"hoi\"}\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.Completed)
	assert.Equal(t, 1, got.res.Deltas)

	text := out.String()
	assert.Contains(t, text, ": ping\n\n")
	assert.True(t, strings.HasSuffix(text, "event: done\ndata: {}\n\n"), "done must be the last bytes written")
}

func TestRelay_CancelStopsStreamAndHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	out := &lockedBuffer{}
	writer := NewFrameWriter(out)
	gotDelta := make(chan int, 4)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := Relay(ctx, pr, writer, nil, "", Options{
			HeartbeatInterval: time.Millisecond,
			OnDelta:           func(n int) { gotDelta <- n },
		})
		done <- outcome{res, err}
	}()

	_, err := io.WriteString(pw, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"deel\"}\n")
	require.NoError(t, err)
	<-gotDelta

	cancel()
	cancel()

	got := <-done
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.False(t, got.res.Completed)
	assert.Equal(t, 1, got.res.Deltas)

	before := out.String()
	assert.NotContains(t, before, "event: metadata")
	assert.NotContains(t, before, "event: done")

	assert.ErrorIs(t, writer.WriteToken("te laat"), ErrWriterClosed)
	assert.ErrorIs(t, writer.WriteKeepAlive(), ErrWriterClosed)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, out.String(), "nothing may be written after cancellation")

	_, err = io.WriteString(pw, "data: {}\n")
	assert.Error(t, err, "upstream body is closed on cancellation")
}

type failingBody struct{ served bool }

func (f *failingBody) Read(p []byte) (int, error) {
	if !f.served {
		f.served = true
		return copy(p, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"a\"}\n"), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func (f *failingBody) Close() error { return nil }

func TestRelay_UpstreamReadErrorClosesWithoutTerminalFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := &lockedBuffer{}
	res, err := Relay(context.Background(), &failingBody{}, NewFrameWriter(out), nil, "", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, res.Completed)

	frames := parseFrames(t, out.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "token", frames[0].Event)
}

// =============================================================================
// FrameWriter
// =============================================================================

func TestFrameWriter_IDsSkipKeepAlives(t *testing.T) {
	out := &lockedBuffer{}
	w := NewFrameWriter(out)

	require.NoError(t, w.WriteToken("a"))
	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.WriteToken("b"))

	assert.Equal(t,
		"id: 1\nevent: token\ndata: {\"delta\":\"a\"}\n\n: ping\n\nid: 2\nevent: token\ndata: {\"delta\":\"b\"}\n\n",
		out.String())

	w.Close()
	w.Close()
	assert.ErrorIs(t, w.WriteDone(), ErrWriterClosed)
}

type panickyWriter struct{ FrameWriter }

func (panickyWriter) WriteKeepAlive() error { panic("boom") }

func TestRunHeartbeat_PanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		runHeartbeat(context.Background(), panickyWriter{}, time.Millisecond, done, nil)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		close(done)
		t.Fatal("heartbeat did not stop after a panicking tick")
	}
}

// cancelOnFirstToken cancels the request as soon as the first token frame
// is written, then keeps counting tokens.
type cancelOnFirstToken struct {
	FrameWriter
	cancel context.CancelFunc
	tokens int
}

func (w *cancelOnFirstToken) WriteToken(delta string) error {
	w.tokens++
	if w.tokens == 1 {
		w.cancel()
	}
	return w.FrameWriter.WriteToken(delta)
}

func TestRelay_CancelMidChunkStopsRemainingDeltas(t *testing.T) {
	defer goleak.VerifyNone(t)

	var chunk strings.Builder
	for _, d := range []string{"een", "twee", "drie", "vier"} {
		chunk.WriteString("data: {\"type\":\"response.output_text.delta\",\"delta\":\"" + d + "\"}\n\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &lockedBuffer{}
	w := &cancelOnFirstToken{FrameWriter: NewFrameWriter(out), cancel: cancel}

	res, err := Relay(ctx, &chunkedBody{chunks: [][]byte{[]byte(chunk.String())}}, w,
		datatypes.NewSourceSet(), "", Options{HeartbeatInterval: time.Hour})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Completed)
	assert.Equal(t, 1, w.tokens)
	assert.Equal(t, 1, res.Deltas)
	if diff := cmp.Diff([]frame{{ID: "1", Event: "token", Data: `{"delta":"een"}`}}, parseFrames(t, out.String())); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}
