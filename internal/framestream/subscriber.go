package framestream

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// zmqSubscriber adapts a zmq4 SUB socket to Subscriber.
type zmqSubscriber struct {
	sock zmq4.Socket
}

// DialZMQ connects a ZeroMQ SUB socket to endpoint and subscribes to all
// topics. The socket outlives ctx; ctx only bounds the dial.
func DialZMQ(ctx context.Context, endpoint string) (Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sock := zmq4.NewSub(context.WithoutCancel(ctx))
	if err := sock.Dial(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		sock.Close()
		return nil, fmt.Errorf("subscribe %s: %w", endpoint, err)
	}
	return &zmqSubscriber{sock: sock}, nil
}

func (z *zmqSubscriber) Recv() ([][]byte, error) {
	msg, err := z.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (z *zmqSubscriber) Close() error {
	return z.sock.Close()
}
