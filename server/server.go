// Package server is the untrusted relay: a prekey directory and a store-and-forward websocket hub. It never sees
// plaintext or private keys.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"vault-signal/common"
	"vault-signal/configs"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Server struct {
	ctx       context.Context
	cancelCtx context.CancelFunc

	redisClient    *redis.Client
	connectedUsers map[string]*conn
	mutex          *sync.Mutex
	logger         *logrus.Logger
	registry       *prometheus.Registry
	metrics        *metrics

	// WebSocket upgrader settings
	upgrader *websocket.Upgrader
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func NewServer(ctx context.Context, redisClient *redis.Client, logger *logrus.Logger, registry *prometheus.Registry) *Server {
	ctx, cancelCtx := context.WithCancel(ctx)
	return &Server{
		ctx:            ctx,
		cancelCtx:      cancelCtx,
		redisClient:    redisClient,
		connectedUsers: make(map[string]*conn),
		mutex:          &sync.Mutex{},
		logger:         logger,
		registry:       registry,
		metrics:        newMetrics(registry),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router wires the directory, relay and metrics endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(configs.PublishKeysPath+"/{userID}", s.HandlePostKeys).Methods(http.MethodPost)
	r.HandleFunc(configs.PublishKeysPath+"/{userID}", s.HandleGetKeys).Methods(http.MethodGet)
	r.HandleFunc(configs.WebSocketPath, s.HandleConnections)
	r.Handle(configs.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// HandleConnections relays frames from the user named in the query to their recipients.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "No user provided", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Error upgrading to WebSocket: %v", err)
		return
	}
	c := &conn{ws: ws}

	s.mutex.Lock()
	if old, ok := s.connectedUsers[userID]; ok {
		old.ws.Close()
	}
	s.connectedUsers[userID] = c
	s.mutex.Unlock()
	s.metrics.online.Inc()
	s.logger.WithField("user", userID).Info("User connected")

	defer func() {
		s.mutex.Lock()
		if s.connectedUsers[userID] == c {
			delete(s.connectedUsers, userID)
		}
		s.mutex.Unlock()
		ws.Close()
		s.metrics.online.Dec()
		s.logger.WithField("user", userID).Info("User disconnected")
	}()

	s.deliverQueuedMessages(userID, c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithField("user", userID).Debugf("Error reading message: %v", err)
			}
			return
		}

		var msg common.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.drop(userID, fmt.Errorf("decode: %w", err))
			continue
		}
		if err := msg.Validate(); err != nil {
			s.drop(userID, err)
			continue
		}
		if msg.SenderID != userID {
			s.drop(userID, fmt.Errorf("sender %q does not match connection", msg.SenderID))
			continue
		}
		s.handleMessage(&msg, data)
	}
}

func (s *Server) drop(userID string, err error) {
	s.metrics.frames.WithLabelValues("dropped").Inc()
	s.logger.WithField("user", userID).Warnf("Dropping malformed frame: %v", err)
}

// Close shuts every connection and the redis client.
func (s *Server) Close() {
	s.cancelCtx()
	s.mutex.Lock()
	for _, c := range s.connectedUsers {
		c.ws.Close()
	}
	s.mutex.Unlock()
	s.redisClient.Close()
}

// handleMessage forwards to an online recipient and queues for an offline one.
func (s *Server) handleMessage(msg *common.Message, data []byte) {
	s.mutex.Lock()
	recipient, online := s.connectedUsers[msg.RecipientID]
	s.mutex.Unlock()

	if online {
		err := recipient.write(data)
		if err == nil {
			s.metrics.frames.WithLabelValues("delivered").Inc()
			return
		}
		s.logger.WithField("user", msg.RecipientID).Warnf("Error sending message, queuing: %v", err)
	}
	s.queueMessage(msg.RecipientID, data)
}

func (s *Server) queueMessage(recipientID string, data []byte) {
	if err := s.redisClient.RPush(s.ctx, fmt.Sprintf(configs.ServerMessageQueueKey, recipientID), data).Err(); err != nil {
		s.logger.WithField("user", recipientID).Errorf("Error queuing message: %v", err)
		s.metrics.frames.WithLabelValues("lost").Inc()
		return
	}
	s.metrics.frames.WithLabelValues("queued").Inc()
}

// deliverQueuedMessages drains the user's queue in order. A frame that cannot be written goes back to the front.
func (s *Server) deliverQueuedMessages(userID string, c *conn) {
	key := fmt.Sprintf(configs.ServerMessageQueueKey, userID)
	for {
		data, err := s.redisClient.LPop(s.ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			s.logger.WithField("user", userID).Errorf("Error retrieving queued messages: %v", err)
			return
		}
		if err := c.write(data); err != nil {
			s.redisClient.LPush(s.ctx, key, data)
			s.logger.WithField("user", userID).Errorf("Error sending queued message: %v", err)
			return
		}
	}
}

// HandlePostKeys stores a bundle after checking its signatures. The one-time prekeys replace any left over from a
// previous publication.
func (s *Server) HandlePostKeys(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var bundle common.PrekeyBundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		s.logger.WithField("user", userID).Errorf("Error decoding keys: %v", err)
		http.Error(w, "Error decoding keys", http.StatusBadRequest)
		return
	}
	if bundle.UserID != userID {
		http.Error(w, "Bundle is for another user", http.StatusBadRequest)
		return
	}
	if err := bundle.VerifySignatures(); err != nil {
		s.logger.WithField("user", userID).Warnf("Rejecting bundle: %v", err)
		http.Error(w, "Invalid bundle", http.StatusBadRequest)
		return
	}

	otks := bundle.OneTimePrekeys
	bundle.OneTimePrekeys = nil
	data, err := json.Marshal(bundle)
	if err != nil {
		s.logger.WithField("user", userID).Errorf("Error serializing keys: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	otkKey := fmt.Sprintf(configs.ServerOneTimeKeysKey, userID)
	_, err = s.redisClient.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(s.ctx, fmt.Sprintf(configs.ServerUserBundleKey, userID), data, 0)
		pipe.Del(s.ctx, otkKey)
		for _, otk := range otks {
			pipe.RPush(s.ctx, otkKey, otk)
		}
		return nil
	})
	if err != nil {
		s.logger.WithField("user", userID).Errorf("Error publishing keys: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.metrics.published.Inc()
	s.logger.WithFields(logrus.Fields{"user": userID, "one_time_prekeys": len(otks)}).Info("Prekey bundle published")
	w.WriteHeader(http.StatusOK)
}

// HandleGetKeys serves a bundle with at most one one-time prekey, removed from the pool so no two initiators get
// the same one.
func (s *Server) HandleGetKeys(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	data, err := s.redisClient.Get(s.ctx, fmt.Sprintf(configs.ServerUserBundleKey, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		http.Error(w, "No keys for user", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithField("user", userID).Errorf("Error retrieving keys: %v", err)
		http.Error(w, "Error retrieving keys", http.StatusInternalServerError)
		return
	}

	var bundle common.PrekeyBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		s.logger.WithField("user", userID).Errorf("Error decoding keys: %v", err)
		http.Error(w, "Error decoding keys", http.StatusInternalServerError)
		return
	}

	otk, err := s.redisClient.LPop(s.ctx, fmt.Sprintf(configs.ServerOneTimeKeysKey, userID)).Bytes()
	switch {
	case err == nil:
		bundle.OneTimePrekeys = [][]byte{otk}
	case errors.Is(err, redis.Nil):
		s.logger.WithField("user", userID).Warn("One-time prekeys exhausted")
	default:
		s.logger.WithField("user", userID).Errorf("Error retrieving one-time prekey: %v", err)
		http.Error(w, "Error retrieving keys", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(bundle); err != nil {
		s.logger.WithField("user", userID).Errorf("Error encoding keys: %v", err)
		return
	}
	s.metrics.fetched.Inc()
}
