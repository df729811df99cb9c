// Command gateway is the composition root: it wires C1-C8 together
// behind the HTTP surface spec.md §6 describes, grounded on the
// teacher's cmd/agent/main.go (env-driven provider selection, .env
// loading, signal-driven shutdown) generalized from a one-shot CLI demo
// into a long-running server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lokutor-ai/voicegate/internal/authtoken"
	"github.com/lokutor-ai/voicegate/internal/config"
	"github.com/lokutor-ai/voicegate/internal/httpapi"
	"github.com/lokutor-ai/voicegate/internal/metrics"
	"github.com/lokutor-ai/voicegate/pkg/billing"
	"github.com/lokutor-ai/voicegate/pkg/logging"
	"github.com/lokutor-ai/voicegate/pkg/pipeline"
	"github.com/lokutor-ai/voicegate/pkg/reaper"
	"github.com/lokutor-ai/voicegate/pkg/realtime"
	"github.com/lokutor-ai/voicegate/pkg/session"
	"github.com/lokutor-ai/voicegate/pkg/stt"
	"github.com/lokutor-ai/voicegate/pkg/transport"
	"github.com/lokutor-ai/voicegate/pkg/vad"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("gateway: configuration error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("gateway: logger init: %v", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ledger := billing.NewRedisLedger(redisClient, "")
	accountant := billing.NewAccountant(ledger)

	store := session.NewStore()

	vadPool := vad.NewPool(cfg.VADPoolSize, func() vad.Detector { return vad.NewEnergyDetector() })
	vadPool.Init()

	sttClient := stt.New(cfg.OpenAIAPIKey)

	deps := pipeline.Deps{Store: store, Accountant: accountant, Logger: logger}
	streamingPipeline := pipeline.NewStreaming(deps, vadPool, sttClient, 44100)
	pushToTalkPipeline := pipeline.NewPushToTalk(deps, sttClient)

	verifier := authtoken.NewVerifier(cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := reaper.New([]reaper.Store{store}, reaper.WithInterval(cfg.ReaperEvery), reaper.WithLogger(logger))
	go func() {
		if err := r.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("reaper stopped", "error", err)
		}
	}()

	router := httpapi.New(cfg.ServerPrefix, verifier, accountant,
		sessionOpener(streamingPipeline, store, m, logger, 44100),
		sessionOpenerPushToTalk(pushToTalkPipeline, store, m, logger),
		uploadHandler(pushToTalkPipeline, store),
	)

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("gateway shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

// sessionOpener builds the streaming /ws handler: accept the websocket,
// register the session, bind and connect a realtime agent configured per
// spec.md §4.6's Settings application, then run the four pipeline loops
// until the client disconnects.
func sessionOpener(p *pipeline.Streaming, store *session.Store, m *metrics.Metrics, logger *logging.Zap, origSR int) httpapi.SessionOpener {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		ch, err := transport.Accept(w, r, nil)
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}

		sessionID := r.URL.Query().Get("session_id")
		sess := store.Connect(sessionID, ch)
		sess.UserID = userID
		sess.Voice = session.NormalizeVoice(r.URL.Query().Get("voice"))
		sess.Topic = r.URL.Query().Get("topic")
		sess.ResponseLength = session.NormalizeResponseLength(r.URL.Query().Get("response_length"))

		m.ActiveSessions.Inc()
		defer m.ActiveSessions.Dec()

		agent := realtime.New(realtime.Config{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			Voice:        string(sess.Voice),
			Instructions: pipeline.BuildInstructions(sess.Topic, sess.ResponseLength),
		})

		ctx := r.Context()
		if err := agent.Connect(ctx); err != nil {
			logger.Error("realtime connect failed", "session_id", sessionID, "error", err)
			store.Disconnect(sessionID)
			return
		}
		store.With(sessionID, func(s *session.Session) { s.Agent = agent })

		if err := p.Run(ctx, sessionID, agent, ch.ReadFrame, ch.ReadText); err != nil {
			logger.Info("streaming session ended", "session_id", sessionID, "reason", err)
		}
		store.Disconnect(sessionID)
	}
}

func sessionOpenerPushToTalk(p *pipeline.PushToTalk, store *session.Store, m *metrics.Metrics, logger *logging.Zap) httpapi.SessionOpener {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		ch, err := transport.Accept(w, r, nil)
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}

		sessionID := r.URL.Query().Get("session_id")
		sess := store.Connect(sessionID, ch)
		sess.UserID = userID
		sess.Voice = session.NormalizeVoice(r.URL.Query().Get("voice"))
		sess.Topic = r.URL.Query().Get("topic")
		sess.ResponseLength = session.NormalizeResponseLength(r.URL.Query().Get("response_length"))

		m.ActiveSessions.Inc()
		defer m.ActiveSessions.Dec()

		agent := realtime.New(realtime.Config{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			Voice:        string(sess.Voice),
			Instructions: pipeline.BuildInstructions(sess.Topic, sess.ResponseLength),
		})

		ctx := r.Context()
		if err := agent.Connect(ctx); err != nil {
			logger.Error("realtime connect failed", "session_id", sessionID, "error", err)
			store.Disconnect(sessionID)
			return
		}
		store.With(sessionID, func(s *session.Session) { s.Agent = agent })

		if err := p.Run(ctx, sessionID, agent, ch.ReadText); err != nil {
			logger.Info("push-to-talk session ended", "session_id", sessionID, "reason", err)
		}
		store.Disconnect(sessionID)
	}
}

// uploadHandler adapts PushToTalk.SubmitUpload to httpapi.UploadHandler.
// The session (and its bound agent) must already exist via ws-button;
// an upload for an unknown session id is rejected.
func uploadHandler(p *pipeline.PushToTalk, store *session.Store) httpapi.UploadHandler {
	return func(ctx context.Context, sessionID, userID string, body []byte) error {
		sess := store.Get(sessionID)
		if sess == nil || sess.Agent == nil {
			return pipeline.ErrEmptyUpload
		}
		agent, ok := sess.Agent.(pipeline.Agent)
		if !ok {
			return pipeline.ErrEmptyUpload
		}
		return p.SubmitUpload(ctx, sessionID, agent, body)
	}
}
