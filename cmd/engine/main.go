package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/codec"
	"github.com/duplex-voice-lab/internal/config"
	"github.com/duplex-voice-lab/internal/engine"
	"github.com/duplex-voice-lab/internal/logging"
	"github.com/duplex-voice-lab/internal/memory"
	"github.com/duplex-voice-lab/internal/session"
	"github.com/duplex-voice-lab/internal/transcribe"
	"github.com/duplex-voice-lab/internal/transport"
	"github.com/duplex-voice-lab/internal/wake"
)

func main() {
	sugar := logging.Init()
	if sugar == nil {
		// fallback to a basic zap logger if initialization failed
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
	}

	cfg := config.FromEnv()

	// memory store: pgvector-backed when a DSN is configured, otherwise the
	// in-process store for single-node and development runs
	var store memory.Store
	if cfg.PostgresDSN != "" {
		pg, err := memory.OpenPG(cfg.PostgresDSN)
		if err != nil {
			sugar.Fatalf("memory store open failed: %v", err)
		}
		store = pg
		sugar.Infow("memory store ready", "backend", "postgres")
	} else {
		store = memory.NewMemStore()
		sugar.Infow("memory store ready", "backend", "memory")
	}

	var embedder memory.Embedder
	if cfg.EmbedURL != "" {
		embedder = memory.NewCachedEmbedder(&memory.HTTPEmbedder{
			URL:     cfg.EmbedURL,
			Model:   cfg.EmbedModel,
			Timeout: cfg.EmbedTimeout,
		}, 10*time.Minute)
	}

	var retriever *memory.Retriever
	if embedder != nil && cfg.JudgeURL != "" {
		judge := &memory.HTTPJudge{
			URL:       cfg.JudgeURL,
			Model:     cfg.JudgeModel,
			AuthToken: cfg.JudgeToken,
			Timeout:   cfg.JudgeTimeout,
		}
		weights := memory.Weights{
			Similarity: cfg.SimilarityWeight,
			Recency:    cfg.RecencyWeight,
			Frequency:  cfg.FrequencyWeight,
			HalfLife:   cfg.RetrievalHalfLife,
		}
		retriever = memory.NewRetriever(store, embedder, judge, weights, cfg.RetrievalK, cfg.MaxInjected)
		sugar.Infow("memory retrieval enabled", "top_k", cfg.RetrievalK, "max_injected", cfg.MaxInjected)
	} else {
		sugar.Warnw("memory retrieval disabled; set EMBED_URL and JUDGE_URL to enable")
	}

	var recognizer transcribe.Recognizer
	if cfg.STTURL != "" {
		recognizer = &transcribe.HTTPRecognizer{
			URL:        cfg.STTURL,
			SampleRate: cfg.SampleRate,
			Timeout:    cfg.STTTimeout,
		}
	} else {
		sugar.Warnw("speech-to-text disabled; set STT_URL to enable wake gating and transcripts")
	}

	mgr := session.NewManager()

	var transcriber *transcribe.Transcriber
	var feed session.SegmentSink
	if recognizer != nil {
		transcriber = transcribe.New(recognizer, store, embedder, cfg.SampleRate,
			cfg.MinSegment, cfg.SegmentQueue, mgr.Route)
		feed = transcriber
	}

	wakeSet := wake.NewSet(cfg.WakeWords, cfg.WakeSensitivity)

	// without a recognizer there is no wake gating, so sessions must greet
	// on connect or they would stay idle forever
	autoActivate := cfg.AutoActivate || recognizer == nil
	if autoActivate {
		sugar.Infow("sessions auto-activate on connect")
	}

	build := func(f audio.Format) *session.Session {
		return session.New(session.Options{
			Config:       cfg,
			Format:       f,
			Codec:        codec.NewLoopback(cfg.FrameSamples()),
			Generator:    engine.Stub{},
			Retriever:    retriever,
			Recognizer:   recognizer,
			WakeWords:    wakeSet,
			AutoActivate: autoActivate,
		}, feed)
	}

	media := transport.NewServer(mgr, build)
	mux := http.NewServeMux()
	mux.HandleFunc("/media", media.HandleMedia)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		sugar.Infow("media server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("media server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Warnf("media server shutdown error: %v", err)
	}
	mgr.CloseAll()
	if transcriber != nil {
		transcriber.Close()
	}

	// ensure any logging buffers are flushed
	if l := zap.L(); l != nil {
		_ = l.Sync()
	}
	sugar.Info("shutdown complete")
}
