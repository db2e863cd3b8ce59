package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/davidahmann/voicebooks/internal/api"
	"github.com/davidahmann/voicebooks/internal/auth"
	"github.com/davidahmann/voicebooks/internal/config"
	"github.com/davidahmann/voicebooks/internal/deepgram"
	"github.com/davidahmann/voicebooks/internal/gemini"
	"github.com/davidahmann/voicebooks/internal/observability"
	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/internal/xero"
	"github.com/davidahmann/voicebooks/pkg/types"
)

func main() {
	if err := runFn(listenAndServe, newServer); err != nil {
		fatalf("voicebooks-gateway: %v", err)
	}
}

var (
	runFn  = run
	fatalf = log.Fatalf
)

type listenFn func(*http.Server) error

type serverFactory func(*config.Config) (*http.Server, error)

func run(listen listenFn, factory serverFactory) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	observability.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	srv, err := factory(cfg)
	if err != nil {
		return err
	}

	observability.Logger().Info("listening",
		"addr", srv.Addr,
		"mode", string(cfg.Mode),
	)
	if err := listen(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func listenAndServe(srv *http.Server) error {
	return srv.ListenAndServe()
}

func newServer(cfg *config.Config) (*http.Server, error) {
	contacts := workflow.ContactCatalog()
	invoices := workflow.InvoiceCatalog()
	if cfg.WorkflowOverrides != "" {
		overrides, err := workflow.LoadOverridesFile(cfg.WorkflowOverrides)
		if err != nil {
			return nil, err
		}
		err = overrides.Apply(map[types.WorkflowKind]*workflow.Catalog{
			types.KindContact: contacts,
			types.KindInvoice: invoices,
		})
		if err != nil {
			return nil, err
		}
	}

	pipeline, ledger, err := collaborators(cfg)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenManager([]byte(cfg.TokenSecret), auth.NewMachineSessions())
	if err != nil {
		return nil, err
	}
	cookies, err := auth.NewCookieCodec([]byte(cfg.TokenSecret))
	if err != nil {
		return nil, err
	}

	h := &api.Handler{
		Contacts: workflow.NewStore(contacts, cfg.SessionTTL),
		Invoices: workflow.NewStore(invoices, cfg.SessionTTL),
		Pipeline: pipeline,
		Ledger:   ledger,
		Resolver: &auth.Resolver{Tokens: tokens, Cookies: cookies},
		Tokens:   tokens,
		Cookies:  cookies,
	}
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

// collaborators picks the speech, extraction, and ledger implementations for
// the configured mode. Dev mode is fully local.
func collaborators(cfg *config.Config) (*voice.Pipeline, xero.Ledger, error) {
	if cfg.Mode == config.ModeDev {
		pipeline := &voice.Pipeline{
			Transcriber: voice.DevTranscriber{},
			Extractor:   voice.DevExtractor{},
		}
		return pipeline, &xero.DevLedger{}, nil
	}

	dgCfg := deepgram.Config{APIKey: cfg.DeepgramAPIKey, Model: cfg.DeepgramModel}
	var transcriber voice.Transcriber
	var err error
	if cfg.DeepgramStreaming {
		transcriber, err = deepgram.NewStreamingClient(dgCfg)
	} else {
		transcriber, err = deepgram.NewClient(dgCfg)
	}
	if err != nil {
		return nil, nil, err
	}

	extractor, err := gemini.NewExtractor(context.Background(), gemini.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return nil, nil, err
	}

	ledger := xero.NewClient(xero.Config{
		ClientID:     cfg.XeroClientID,
		ClientSecret: cfg.XeroClientSecret,
	})
	return &voice.Pipeline{Transcriber: transcriber, Extractor: extractor}, ledger, nil
}
