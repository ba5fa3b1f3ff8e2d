// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/palaver-im/palaver/lib/sse"
)

// streamingSyncPath is the MSC2108 streaming sync endpoint.
const streamingSyncPath = "/_matrix/client/unstable/org.matrix.msc2108/sync/sse"

// streamReadBufferSize is the socket read buffer for a sync stream. A
// single read rarely spans more than a handful of records.
const streamReadBufferSize = 32 * 1024

// StreamOptions configures a streaming sync connection. The zero
// value opens a fresh stream with server defaults.
type StreamOptions struct {
	// ResumeFrom is the cursor from a previous stream (see
	// SyncStream.Cursor). When set, the server resumes delivery from
	// the position after that cursor instead of starting fresh.
	ResumeFrom string
	// Filter is a server-side filter ID or inline JSON filter
	// definition, as for the polling sync API.
	Filter string
	// FullState requests full room state in the first payload even
	// when resuming.
	FullState bool
	// SetPresence overrides the presence the server infers from this
	// connection: "online", "unavailable", or "offline".
	SetPresence string
}

// StreamEvent is one delivered sync record.
type StreamEvent struct {
	// Payload is the decoded sync delta. Never nil.
	Payload *SyncPayload
	// EventName is the record's event field, if the server set one.
	EventName string
	// RecordID is the record's id field — the cursor value this
	// record advanced the stream to. Empty if the server sent none.
	RecordID string
}

// StreamHandler receives sync records in arrival order. It is called
// synchronously from the stream's goroutine, so a slow handler
// backpressures the connection; it must not block forever.
type StreamHandler func(StreamEvent)

// SyncStream is one live streaming sync connection. A background
// goroutine owns the socket: it reassembles server-sent event
// records, decodes each payload, and hands it to the handler. The
// stream runs until the server closes it, the transport fails, a
// payload fails to decode, or the caller cancels it.
//
// Cursor, Cancel, Join, and Done may be called from any goroutine.
type SyncStream struct {
	id        string
	logger    *slog.Logger
	handler   StreamHandler
	body      io.ReadCloser
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu     sync.Mutex
	cursor string

	// done closes when the receive goroutine has fully stopped; err
	// is written before the close.
	done chan struct{}
	err  error
}

// OpenStream opens a streaming sync connection and starts delivering
// records to handler from a background goroutine. It returns once the
// handshake has succeeded; handshake failures are classified into the
// package's error taxonomy (in particular, a rejected token is an
// UnauthorizedError and a server without the endpoint is a
// RequestError).
//
// ctx governs the whole stream, not just the handshake: cancelling it
// tears the connection down, but surfaces as a ConnectionError from
// Join. For an orderly local shutdown use Cancel, which Join reports
// as a clean end.
func (s *Session) OpenStream(ctx context.Context, options StreamOptions, handler StreamHandler) (*SyncStream, error) {
	if handler == nil {
		return nil, fmt.Errorf("messaging: OpenStream requires a non-nil handler")
	}
	if s.accessToken == "" {
		// No point dialing; the server would only say the same thing.
		return nil, &UnauthorizedError{Message: "session has no access token"}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	response, err := s.streamingHandshake(streamCtx, options)
	if err != nil {
		cancel()
		return nil, err
	}

	stream := &SyncStream{
		id:      uuid.NewString(),
		handler: handler,
		body:    response.Body,
		cancel:  cancel,
		cursor:  options.ResumeFrom,
		done:    make(chan struct{}),
	}
	stream.logger = s.client.logger.With(
		"stream_id", stream.id,
		"user_id", s.UserID().String())
	stream.logger.Info("streaming sync connected",
		"resume_from", options.ResumeFrom)

	go stream.receiveLoop()
	return stream, nil
}

// streamingHandshake issues the streaming sync GET and validates the
// response, returning it with the body still open. Shared between
// OpenStream and the capability probe.
func (s *Session) streamingHandshake(ctx context.Context, options StreamOptions) (*http.Response, error) {
	const op = "streaming sync handshake"

	requestURL := s.client.baseURL + streamingSyncPath
	// Only the parameters the endpoint defines are forwarded.
	query := url.Values{}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	if options.FullState {
		query.Set("full_state", "true")
	}
	if options.SetPresence != "" {
		query.Set("set_presence", options.SetPresence)
	}
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Authorization", "Bearer "+s.accessToken)
	if options.ResumeFrom != "" {
		// The resume position travels as the standard SSE reconnect
		// header, not a query parameter.
		request.Header.Set("Last-Event-ID", options.ResumeFrom)
	}

	response, err := s.client.httpClient.Do(request)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer response.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		return nil, classifyResponse(op, response.StatusCode, body)
	}
	mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		response.Body.Close()
		return nil, &UnexpectedResponseError{
			Message: fmt.Sprintf("%s returned content type %q, want text/event-stream", op, mediaType),
		}
	}
	return response, nil
}

// receiveLoop owns the stream body: it reads chunks, reassembles
// records, and dispatches them until the connection ends.
func (stream *SyncStream) receiveLoop() {
	defer stream.body.Close()

	var assembler sse.Assembler
	buffer := make([]byte, streamReadBufferSize)
	for {
		n, readErr := stream.body.Read(buffer)
		if n > 0 {
			if err := stream.dispatch(assembler.Feed(buffer[:n])); err != nil {
				stream.finish(err)
				return
			}
		}
		if readErr != nil {
			switch {
			case readErr == io.EOF:
				// Server closed the stream; any partial record still
				// buffered was never terminated and is dropped.
				stream.finish(nil)
			case stream.cancelled.Load():
				stream.finish(nil)
			default:
				stream.finish(&ConnectionError{Op: "streaming sync read", Err: readErr})
			}
			return
		}
	}
}

// dispatch decodes and delivers completed records in order. The
// cursor advances only after a record's payload has been decoded and
// handed to the handler, so a decode failure leaves the cursor at the
// last record the caller actually received.
func (stream *SyncStream) dispatch(records []string) error {
	for _, raw := range records {
		record := sse.ParseRecord(raw)
		if !record.HasData {
			// Comment-only keepalive block; nothing to deliver.
			continue
		}
		payload, err := decodeSyncPayload(record.Data)
		if err != nil {
			return err
		}
		stream.handler(StreamEvent{
			Payload:   payload,
			EventName: record.Event,
			RecordID:  record.ID,
		})
		if record.ID != "" {
			stream.setCursor(record.ID)
		}
		stream.logger.Debug("sync record delivered",
			"record_id", record.ID,
			"event", record.Event,
			"next_batch", payload.NextBatch)
	}
	return nil
}

func (stream *SyncStream) finish(err error) {
	// Release the derived request context however the stream ended;
	// otherwise every completed stream stays registered with the
	// caller's parent context until that is cancelled.
	stream.cancel()
	stream.err = err
	if err != nil {
		stream.logger.Error("streaming sync terminated",
			"error", err,
			"cursor", stream.Cursor())
	} else {
		stream.logger.Info("streaming sync closed",
			"cursor", stream.Cursor())
	}
	close(stream.done)
}

// ID returns the stream's unique identifier, used to correlate log
// lines from this connection.
func (stream *SyncStream) ID() string { return stream.id }

// Cursor returns the resume position: the id of the last record that
// was decoded and delivered, or the ResumeFrom value if none has been
// yet. Pass it as StreamOptions.ResumeFrom on the next stream to
// continue without losing records.
func (stream *SyncStream) Cursor() string {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return stream.cursor
}

func (stream *SyncStream) setCursor(cursor string) {
	stream.mu.Lock()
	stream.cursor = cursor
	stream.mu.Unlock()
}

// Cancel requests an orderly shutdown: the connection is torn down
// and Join reports a nil error. Records already read may still be
// delivered to the handler before the stream stops. Safe to call
// multiple times and from any goroutine.
func (stream *SyncStream) Cancel() {
	stream.cancelled.Store(true)
	stream.cancel()
}

// Join blocks until the stream has fully stopped — the socket closed
// and the final handler call returned — and reports why. A nil error
// means a clean end: the server closed the stream, or Cancel was
// called. ctx bounds only the wait itself; if it expires the stream
// keeps running and Join returns ctx.Err().
func (stream *SyncStream) Join(ctx context.Context) error {
	select {
	case <-stream.done:
		return stream.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the stream has fully stopped,
// for use in select loops. After it closes, Join returns immediately.
func (stream *SyncStream) Done() <-chan struct{} { return stream.done }
