// Package websocket pushes realtime events to browser clients grouped in
// per-tenant rooms.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and broadcasts messages to rooms
type Hub struct {
	logger *zap.Logger

	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	mu      sync.RWMutex
	running bool
	closed  bool

	broadcast chan *RoomMessage

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	pumps    sync.WaitGroup
	stopOnce sync.Once
}

// NewHub creates a hub. Call Run to start delivering broadcasts.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:    logger,
		clients:   make(map[*Client]struct{}),
		rooms:     make(map[string]map[*Client]struct{}),
		broadcast: make(chan *RoomMessage, 1024),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// TenantRoom is the room every client of a tenant joins
func TenantRoom(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

// Run delivers queued broadcasts until Shutdown
func (h *Hub) Run() {
	h.mu.Lock()
	if h.running || h.closed {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Publish queues an event for every client of tenantID. It never blocks;
// when the queue is full the event is dropped.
func (h *Hub) Publish(tenantID uuid.UUID, eventType string, data interface{}) {
	msg, err := NewMessage(eventType, data)
	if err != nil {
		h.logger.Error("failed to encode realtime event", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.BroadcastToRoom(TenantRoom(tenantID), msg)
}

// BroadcastToRoom queues a message for all clients in room
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	select {
	case <-h.ctx.Done():
	case h.broadcast <- &RoomMessage{Room: room, Message: message}:
	default:
		h.logger.Warn("broadcast queue full, message dropped", zap.String("room", room), zap.String("type", message.Type))
	}
}

func (h *Hub) deliver(msg *RoomMessage) {
	data, err := json.Marshal(msg.Message)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.rooms[msg.Room] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("dropping slow client", zap.String("client_id", client.ID))
		h.remove(client)
	}
}

// add registers client and starts its pumps. Returns false after Shutdown.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	h.clients[client] = struct{}{}
	members, ok := h.rooms[client.room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[client.room] = members
	}
	members[client] = struct{}{}

	h.pumps.Add(2)
	go client.writePump()
	go client.readPump()

	h.logger.Debug("client connected",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.String("room", client.room),
		zap.Int("clients", len(h.clients)))
	return true
}

// remove unregisters client and closes its send channel. Safe to call twice.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	if members, ok := h.rooms[client.room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.room)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Shutdown disconnects every client and waits for the hub and all client
// goroutines to exit
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		running := h.running
		count := len(h.clients)
		for client := range h.clients {
			h.removeLocked(client)
		}
		h.mu.Unlock()

		h.cancel()
		if running {
			<-h.done
		}
		h.pumps.Wait()
		h.logger.Info("websocket hub stopped", zap.Int("disconnected", count))
	})
}
