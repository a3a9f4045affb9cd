package notify

import (
	"context"
	"net/http"
	"strings"
)

// DefaultNtfyServer is the public ntfy instance
const DefaultNtfyServer = "https://ntfy.sh"

// NtfySettings configures the ntfy transport
type NtfySettings struct {
	Server string
	Topic  string
}

// Ntfy posts alerts to an ntfy topic
type Ntfy struct {
	url    string
	poster poster
}

// NewNtfy creates an ntfy notifier
func NewNtfy(s NtfySettings, client *http.Client) *Ntfy {
	server := s.Server
	if server == "" {
		server = DefaultNtfyServer
	}
	return &Ntfy{
		url:    strings.TrimRight(server, "/") + "/" + s.Topic,
		poster: newPoster(client),
	}
}

func (n *Ntfy) Name() string {
	return "ntfy"
}

func (n *Ntfy) Notify(ctx context.Context, title, body string) error {
	return n.poster.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Title", title)
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		return req, nil
	})
}
