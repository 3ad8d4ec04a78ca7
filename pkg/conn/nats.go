package conn

import (
	"github.com/nats-io/nats.go"
)

// NatsOption defines connection options for the event bus.
type NatsOption struct {
	URL  string
	Name string
}

// NewNats connects to a NATS server.
func NewNats(option NatsOption) (*nats.Conn, error) {
	url := option.URL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{}
	if option.Name != "" {
		opts = append(opts, nats.Name(option.Name))
	}
	return nats.Connect(url, opts...)
}
