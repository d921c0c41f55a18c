package channel

import (
	"github.com/pkg/errors"
)

var ErrNotConnected = errors.New("channel is not connected")

type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return "connect " + e.Endpoint + ": " + errString(e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return "subscribe " + e.Topic + ": " + errString(e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

type SendError struct {
	Topic string
	Err   error
}

func (e *SendError) Error() string {
	if e.Topic == "" {
		return "send: " + errString(e.Err)
	}
	return "send " + e.Topic + ": " + errString(e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
