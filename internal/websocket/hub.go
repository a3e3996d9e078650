package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
)

// Message types
const (
	MessageTypePlayerUpdate = "player_update"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message is a frame sent to clients
type Message struct {
	Type      string          `json:"type"`
	Wallet    string          `json:"wallet,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub tracks connected clients and the wallets they follow
type Hub struct {
	// Subscribed clients by wallet
	watchers map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	wallet string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		watchers:    make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest),
		unsubscribe: make(chan *subscriptionRequest),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.watchers[req.wallet]; !ok {
					h.watchers[req.wallet] = make(map[*Client]bool)
				}
				h.watchers[req.wallet][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "wallet", req.wallet)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			h.forget(req.client, req.wallet)
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "wallet", req.wallet)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub and closes every client
func (h *Hub) Stop() {
	h.cancel()
}

// drop removes a client everywhere. Caller holds mu.
func (h *Hub) drop(client *Client) {
	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for wallet := range h.watchers {
		h.forget(client, wallet)
	}
	client.close()
}

// forget removes one subscription. Caller holds mu.
func (h *Hub) forget(client *Client, wallet string) {
	clients, ok := h.watchers[wallet]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.watchers, wallet)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.allClients {
		h.drop(client)
	}
}

// deliver sends a message to the wallet's watchers, or to everyone when the
// message names no wallet
func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.Wallet != "" {
		targets = h.watchers[message.Wallet]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastPlayerUpdate pushes a wallet's new record to its watchers
func (h *Hub) BroadcastPlayerUpdate(wallet string, rec *domain.PlayerRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("failed to marshal player", "wallet", wallet, "error", err)
		return
	}
	message := &Message{
		Type:      MessageTypePlayerUpdate,
		Wallet:    wallet,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "wallet", wallet)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe starts delivering a wallet's updates to the client. Updates
// broadcast after Subscribe returns reach the client.
func (h *Hub) Subscribe(client *Client, wallet string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, wallet: wallet}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe stops delivering a wallet's updates to the client
func (h *Hub) Unsubscribe(client *Client, wallet string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, wallet: wallet}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of clients watching a wallet
func (h *Hub) GetSubscriberCount(wallet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[wallet])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
