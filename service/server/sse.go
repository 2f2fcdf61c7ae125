package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	natspkg "github.com/brojonat/ledgerswap/service/nats"
)

// EventStream fans swap lifecycle events out to Server-Sent Events clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger

	// done is closed by Close; open handlers return when it is.
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventStream connects to NATS for the SSE route.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, err := natspkg.Connect(natsURL, "ledgerswap-sse")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE event stream initialized", "nats_url", natsURL)

	return &EventStream{
		nc:     nc,
		js:     js,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Close ends every open stream and closes the NATS connection. It is safe to
// call more than once.
func (p *EventStream) Close() error {
	p.closeOnce.Do(func() {
		if p.done != nil {
			close(p.done)
		}
		if p.nc != nil {
			p.nc.Close()
		}
		p.logger.Info("SSE event stream closed")
	})
	return nil
}

// Done is closed once Close has been called.
func (p *EventStream) Done() <-chan struct{} {
	return p.done
}

// streamSubject picks the JetStream filter for an optional ?event= value.
func streamSubject(event string) (string, error) {
	switch natspkg.EventType(event) {
	case "":
		return natspkg.StreamSubjects, nil
	case natspkg.EventAccepted, natspkg.EventProcessed, natspkg.EventPayoutFailed:
		return natspkg.SubjectPrefix + event, nil
	default:
		return "", fmt.Errorf("unknown event %q", event)
	}
}

// handleStreamSwaps streams swap events as they are published.
// GET /api/stream/swaps?event=accepted|processed|payout_failed&txid=TXID
func handleStreamSwaps(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := streamSubject(r.URL.Query().Get("event"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		txid := r.URL.Query().Get("txid")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
		flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"txid", txid,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral consumer, new messages only.
		cons, err := stream.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: time.Minute,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		hello, _ := json.Marshal(map[string]string{"subject": subject, "txid": txid})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
		flush()

		relayEvents(r.Context(), w, flush, msgChan, doneChan, stream.Done(), txid, logger)
		logger.DebugContext(r.Context(), "SSE client disconnected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)
	})
}

const keepaliveInterval = 10 * time.Second

// relayEvents writes events from msgs to w until the client goes away, the
// consumer stops or the stream is closed.
func relayEvents(ctx context.Context, w io.Writer, flush func(), msgs <-chan jetstream.Msg, consumerDone, streamDone <-chan struct{}, txid string, logger *slog.Logger) {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush()

		case msg := <-msgs:
			var event natspkg.SwapEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				logger.WarnContext(ctx, "failed to unmarshal event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			if txid != "" && event.Txid != txid {
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, msg.Data())
			flush()

			logger.DebugContext(ctx, "sent swap event",
				"txid", event.Txid,
				"event", event.Event,
			)

		case <-streamDone:
			fmt.Fprintf(w, "event: shutdown\ndata: {}\n\n")
			flush()
			return

		case <-ctx.Done():
			return

		case <-consumerDone:
			return
		}
	}
}
