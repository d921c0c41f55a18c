// Package relay is a local stand-in for the chat backend: it accepts
// submissions over HTTP or websocket, publishes them on the broker and fans
// chat frames out to websocket clients. It also publishes the wall-clock time
// on a second topic at a fixed interval.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatsync/pkg/frame"
	"github.com/go-go-golems/chatsync/pkg/metrics"
)

const maxBodyBytes = 64 << 10

type Settings struct {
	Addr         string
	InputTopic   string
	TimeTopic    string
	TimeInterval time.Duration
}

// MessageRequest is the body accepted by POST /api/message.
type MessageRequest struct {
	Side    string `json:"side,omitempty" validate:"omitempty,max=64"`
	Message string `json:"message" validate:"required,max=4096"`
}

type MessageResponse struct {
	ID string `json:"id"`
}

type Server struct {
	settings  Settings
	publisher message.Publisher
	pool      *ConnectionPool
	upgrader  websocket.Upgrader
	validate  *validator.Validate
	now       func() time.Time
}

func NewServer(s Settings, publisher message.Publisher) *Server {
	return &Server{
		settings:  s,
		publisher: publisher,
		pool:      NewConnectionPool(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Server) Pool() *ConnectionPool { return s.pool }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleMessage(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	switch req.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	id, err := s.Accept(req.Context(), body)
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		http.Error(w, "publish failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(MessageResponse{ID: id})
}

// Accept validates a submission, publishes its text on the input topic and
// broadcasts it as a chat frame to websocket clients.
func (s *Server) Accept(ctx context.Context, body MessageRequest) (string, error) {
	body.Side = strings.TrimSpace(body.Side)
	if strings.TrimSpace(body.Message) == "" {
		body.Message = ""
	}
	if err := s.validate.Struct(body); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if s.publisher != nil {
		msg := message.NewMessage(id, []byte(body.Message))
		msg.SetContext(ctx)
		if err := s.publisher.Publish(s.settings.InputTopic, msg); err != nil {
			log.Error().Err(err).Str("component", "relay").Str("topic", s.settings.InputTopic).Msg("publish failed")
			return "", errors.Wrap(err, "publish")
		}
		metrics.Metrics.RelayPublished.WithLabelValues(s.settings.InputTopic).Inc()
	}

	data, err := frame.EncodeStructuredChat(body.Side, body.Message)
	if err != nil {
		return "", err
	}
	s.pool.Broadcast(data)
	log.Debug().Str("component", "relay").Str("id", id).Int("clients", s.pool.Count()).Msg("message accepted")
	return id, nil
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	s.pool.Add(conn)
	log.Info().Str("component", "relay").Str("remote", req.RemoteAddr).Msg("ws client attached")

	defer func() {
		s.pool.Remove(conn)
		log.Info().Str("component", "relay").Str("remote", req.RemoteAddr).Msg("ws client detached")
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		payload, err := frame.DecodeStructuredChat(data)
		if err != nil {
			log.Warn().Err(err).Str("component", "relay").Msg("ignoring undecodable ws frame")
			continue
		}
		if _, err := s.Accept(req.Context(), MessageRequest{Side: payload.Side, Message: payload.Text}); err != nil {
			log.Warn().Err(err).Str("component", "relay").Msg("ws submission rejected")
		}
	}
}

// PublishTime publishes the current time once on the time topic.
func (s *Server) PublishTime(ctx context.Context) error {
	if s.publisher == nil || s.settings.TimeTopic == "" {
		return nil
	}
	msg := message.NewMessage(uuid.NewString(), []byte(s.now().Format("15:04:05")))
	msg.SetContext(ctx)
	if err := s.publisher.Publish(s.settings.TimeTopic, msg); err != nil {
		return errors.Wrap(err, "publish time")
	}
	metrics.Metrics.RelayPublished.WithLabelValues(s.settings.TimeTopic).Inc()
	return nil
}

func (s *Server) runTicker(ctx context.Context) error {
	if s.settings.TimeInterval <= 0 || s.settings.TimeTopic == "" {
		return nil
	}
	t := time.NewTicker(s.settings.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.PublishTime(ctx); err != nil {
				log.Warn().Err(err).Str("component", "relay").Msg("time publish failed")
			}
		}
	}
}

// Run serves HTTP and publishes the time until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.settings.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.runTicker(ctx) })
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.pool.CloseAll()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("component", "relay").Msg("server shutdown error")
			return err
		}
		log.Info().Str("component", "relay").Msg("relay shutdown complete")
		return nil
	})
	eg.Go(func() error {
		log.Info().Str("component", "relay").Str("addr", s.settings.Addr).Msg("starting relay")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "relay").Msg("server listen error")
			return err
		}
		return nil
	})
	return eg.Wait()
}
