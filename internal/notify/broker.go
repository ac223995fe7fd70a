// Package notify fans out opt-in lifecycle events. Events travel through
// redis pub/sub so every server instance sees them, then reach SSE clients
// subscribed to the affected account.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/tallyhq/survey-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event types published on portfolio channels.
const (
	EventGrantInitiated   = "portfolio.grant_initiated"
	EventRequestInitiated = "portfolio.request_initiated"
	EventAccepted         = "portfolio.accepted"
	EventDenied           = "portfolio.denied"
	EventExpired          = "portfolio.expired"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	AccountSlug string
	Events      chan Event
	Done        chan struct{}
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // account slug -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(accountSlug string) *Client {
	client := &Client{
		AccountSlug: accountSlug,
		Events:      make(chan Event, 100),
		Done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[accountSlug] == nil {
		b.clients[accountSlug] = make(map[*Client]bool)
		go b.subscribeToRedis(accountSlug)
	}
	b.clients[accountSlug][client] = true
	clientCount := len(b.clients[accountSlug])
	b.mu.Unlock()

	log.Info().
		Str("account", accountSlug).
		Int("clientCount", clientCount).
		Msg("event client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.AccountSlug]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.AccountSlug)
		}

		log.Info().
			Str("account", client.AccountSlug).
			Int("clientCount", len(clients)).
			Msg("event client unsubscribed")
	}
}

// Publish marshals payload and fans it out to every subscriber of the
// account's portfolio channel, across all server instances.
func (b *Broker) Publish(ctx context.Context, accountSlug string, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{Type: eventType, Data: data}
	wire, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.PortfolioChannel(accountSlug)
	return b.redis.Publish(ctx, channel, wire).Err()
}

func (b *Broker) subscribeToRedis(accountSlug string) {
	channel := redisclient.PortfolioChannel(accountSlug)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("account", accountSlug).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(accountSlug, event)
		}
	}
}

func (b *Broker) broadcast(accountSlug string, event Event) {
	b.mu.RLock()
	clients := b.clients[accountSlug]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("account", accountSlug).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(accountSlug string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[accountSlug])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
