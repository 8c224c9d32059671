package framestream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

// ErrNotConnected is returned by ReceiveFrame before Connect or after Close.
var ErrNotConnected = errors.New("frame stream not connected")

// Subscriber is a subscribe-only message socket. Recv blocks until a
// multipart message arrives or the socket is closed.
type Subscriber interface {
	Recv() ([][]byte, error)
	Close() error
}

// Dialer opens a Subscriber on endpoint, subscribed to every topic.
type Dialer func(ctx context.Context, endpoint string) (Subscriber, error)

// Options configures a Receiver.
type Options struct {
	Dial   Dialer // default DialZMQ
	Depth  int    // messages buffered between socket and caller; default 4
	Logger *slog.Logger
}

// Stats is a snapshot of receiver counters.
type Stats struct {
	Received     int64 // messages taken off the socket
	Frames       int64 // frames handed to the caller
	Dropped      int64 // messages discarded because the buffer was full
	Empty        int64 // ReceiveFrame calls with nothing pending
	Unsupported  int64 // messages with an unknown bit depth
	DecodeErrors int64 // other malformed messages
	EndMarkers   int64 // end-of-acquisition headers
	Bytes        int64 // payload bytes handed to the caller
	IntervalP50  time.Duration
	IntervalP95  time.Duration
}

// Receiver reads a frame stream in the background and hands out at most
// one decoded frame per ReceiveFrame call. ReceiveFrame must not be
// called concurrently.
type Receiver struct {
	dial   Dialer
	depth  int
	logger *slog.Logger

	mu       sync.Mutex
	sub      Subscriber
	mailbox  chan [][]byte
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	endpoint string

	received     atomic.Int64
	frames       atomic.Int64
	dropped      atomic.Int64
	empty        atomic.Int64
	unsupported  atomic.Int64
	decodeErrors atomic.Int64
	endMarkers   atomic.Int64
	bytes        atomic.Int64

	digestMu    sync.Mutex
	interval    *tdigest.TDigest
	lastArrival time.Time
}

// NewReceiver creates an unconnected Receiver.
func NewReceiver(opts Options) *Receiver {
	if opts.Dial == nil {
		opts.Dial = DialZMQ
	}
	if opts.Depth <= 0 {
		opts.Depth = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Receiver{
		dial:     opts.Dial,
		depth:    opts.Depth,
		logger:   opts.Logger,
		interval: tdigest.NewWithCompression(100),
	}
}

// Connect subscribes to endpoint. An existing connection is closed first.
func (r *Receiver) Connect(ctx context.Context, endpoint string) error {
	if err := r.Close(); err != nil {
		r.logger.Warn("frame_stream_close_failed", "error", err)
	}

	sub, err := r.dial(ctx, endpoint)
	if err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	mailbox := make(chan [][]byte, r.depth)

	r.mu.Lock()
	r.sub = sub
	r.mailbox = mailbox
	r.cancel = cancel
	r.endpoint = endpoint
	r.mu.Unlock()

	r.wg.Add(1)
	go r.readLoop(readCtx, sub, mailbox)

	r.logger.Info("frame_stream_connected", "endpoint", endpoint)
	return nil
}

// readLoop moves messages from the socket into the mailbox, discarding
// the oldest message when the caller falls behind.
func (r *Receiver) readLoop(ctx context.Context, sub Subscriber, mailbox chan [][]byte) {
	defer r.wg.Done()

	for {
		parts, err := sub.Recv()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Debug("frame_stream_recv_failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		r.received.Add(1)
		r.observeArrival(time.Now())

		for {
			select {
			case mailbox <- parts:
			default:
				select {
				case <-mailbox:
					r.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

func (r *Receiver) observeArrival(now time.Time) {
	r.digestMu.Lock()
	defer r.digestMu.Unlock()
	if !r.lastArrival.IsZero() {
		r.interval.Add(float64(now.Sub(r.lastArrival).Nanoseconds()), 1)
	}
	r.lastArrival = now
}

// ReceiveFrame returns the next pending frame without blocking. ok is
// false when nothing is pending or the message carried an unknown bit
// depth; that is a normal outcome, not an error. Malformed headers and
// payload size mismatches are returned as errors.
func (r *Receiver) ReceiveFrame() (Frame, bool, error) {
	r.mu.Lock()
	mailbox := r.mailbox
	r.mu.Unlock()
	if mailbox == nil {
		return Frame{}, false, ErrNotConnected
	}

	var parts [][]byte
	select {
	case parts = <-mailbox:
	default:
		r.empty.Add(1)
		return Frame{}, false, nil
	}

	if len(parts) == 0 {
		r.decodeErrors.Add(1)
		return Frame{}, false, ErrMalformedHeader
	}
	var payload []byte
	if len(parts) > 1 {
		payload = parts[1]
	}

	frame, err := Decode(parts[0], payload)
	switch {
	case errors.Is(err, ErrUnsupportedBitDepth):
		r.unsupported.Add(1)
		r.logger.Debug("frame_unsupported_bit_depth", "error", err)
		return Frame{}, false, nil
	case err != nil:
		r.decodeErrors.Add(1)
		return Frame{}, false, err
	case frame.Header.EndOfAcquisition:
		r.endMarkers.Add(1)
		return Frame{}, false, nil
	}

	frame.Received = time.Now()
	r.frames.Add(1)
	r.bytes.Add(int64(len(frame.Payload)))
	return frame, true, nil
}

// Endpoint returns the connected endpoint, or "" if not connected.
func (r *Receiver) Endpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

// Stats returns a snapshot of the receiver counters.
func (r *Receiver) Stats() Stats {
	s := Stats{
		Received:     r.received.Load(),
		Frames:       r.frames.Load(),
		Dropped:      r.dropped.Load(),
		Empty:        r.empty.Load(),
		Unsupported:  r.unsupported.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		EndMarkers:   r.endMarkers.Load(),
		Bytes:        r.bytes.Load(),
	}
	r.digestMu.Lock()
	if r.interval.Count() > 0 {
		s.IntervalP50 = time.Duration(r.interval.Quantile(0.5))
		s.IntervalP95 = time.Duration(r.interval.Quantile(0.95))
	}
	r.digestMu.Unlock()
	return s
}

// Close releases the endpoint. Safe to call multiple times.
func (r *Receiver) Close() error {
	r.mu.Lock()
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel, r.mailbox, r.endpoint = nil, nil, nil, ""
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	cancel()
	err := sub.Close()
	r.wg.Wait()
	r.logger.Info("frame_stream_closed")
	return err
}
