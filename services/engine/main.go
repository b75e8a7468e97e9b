// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The engine service collects per-session workout preferences over SMS and
// in-app chat, runs the disambiguation protocol, and serves the live
// preference state to the rest of the platform.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/GymPulseAI/GymPulse/pkg/logging"
	"github.com/GymPulseAI/GymPulse/pkg/templates"
	"github.com/GymPulseAI/GymPulse/services/engine/broadcast"
	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
	"github.com/GymPulseAI/GymPulse/services/engine/nlp"
	"github.com/GymPulseAI/GymPulse/services/engine/observability"
	"github.com/GymPulseAI/GymPulse/services/engine/routes"
	enginebadger "github.com/GymPulseAI/GymPulse/services/engine/storage/badger"
	"github.com/GymPulseAI/GymPulse/services/engine/transport"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "gympulse-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("engine-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// flowSource glues the session flow bindings to the template registry. A
// missing binding, a legacy binding, or an unknown template name all mean
// the legacy flow.
type flowSource struct {
	store    *enginebadger.Store
	registry *templates.Registry
}

func (f *flowSource) FlowForSession(ctx context.Context, sessionID string) (*datatypes.FlowTemplate, error) {
	binding, err := f.store.GetFlowBinding(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if binding == nil || binding.FlowType == datatypes.FlowLegacy {
		return nil, nil
	}
	return f.registry.Template(binding.TemplateName), nil
}

// openaiAPIKey resolves the key from the environment or the container
// secret, mirroring how the rest of the platform passes credentials.
func openaiAPIKey() string {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
		slog.Info("Read the OpenAI API Key from container secrets")
		return strings.TrimSpace(string(data))
	}
	return ""
}

func main() {
	port := os.Getenv("ENGINE_PORT")
	if port == "" {
		port = "12300"
	}

	logs := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("ENGINE_LOG_LEVEL")),
		Service: "engine",
		JSON:    true,
		Stdout:  true,
		LogDir:  os.Getenv("ENGINE_LOG_DIR"),
	})
	defer logs.Close()
	logger := logs.Slog()
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	dbPath := os.Getenv("ENGINE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/engine"
	}
	db, err := enginebadger.Open(enginebadger.DefaultConfig(dbPath))
	if err != nil {
		log.Fatalf("FATAL: could not open the engine database: %v", err)
	}
	defer db.Close()
	store := enginebadger.NewStore(db)

	registry := templates.NewRegistry(logger)
	templatesDir := os.Getenv("ENGINE_TEMPLATES_DIR")
	if templatesDir != "" {
		if err := registry.LoadDir(templatesDir); err != nil {
			log.Fatalf("FATAL: could not load flow templates: %v", err)
		}
		if err := registry.Watch(templatesDir); err != nil {
			slog.Warn("template hot reload disabled", "error", err)
		} else {
			defer registry.Close()
		}
	} else {
		slog.Info("ENGINE_TEMPLATES_DIR not set, all sessions use the legacy flow")
	}

	catalog := nlp.NewInMemoryCatalog()
	if catalogPath := os.Getenv("ENGINE_CATALOG_PATH"); catalogPath != "" {
		if err := nlp.LoadCatalogFile(catalogPath, catalog); err != nil {
			log.Fatalf("FATAL: could not load the exercise catalog: %v", err)
		}
	} else {
		slog.Warn("ENGINE_CATALOG_PATH not set, exercise matching has an empty catalog")
	}

	model := os.Getenv("OPENAI_MODEL")
	var parser conversation.PreferenceParser
	var llmClient *openai.Client
	if key := openaiAPIKey(); key != "" {
		p, err := nlp.NewOpenAIParser(key, model, logger)
		if err != nil {
			log.Fatalf("FATAL: could not build the OpenAI parser: %v", err)
		}
		parser = p
		llmClient = openai.NewClient(key)
		slog.Info("Using the OpenAI preference parser", "model", model)
	} else {
		parser = nlp.NewHeuristicParser()
		slog.Warn("OPENAI_API_KEY not set, running the lexicon-only parser (lightweight mode)")
	}
	matcher := nlp.NewHybridMatcher(catalog, llmClient, model, logger)

	var sender conversation.Transport
	if gatewayURL := os.Getenv("ENGINE_GATEWAY_URL"); gatewayURL != "" {
		sender = transport.NewWebhook(gatewayURL, logger)
	} else {
		slog.Info("ENGINE_GATEWAY_URL not set, outbound messages go to the log")
		sender = transport.NewLog(logger)
	}

	hub := broadcast.NewHub(logger)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	engine, err := conversation.NewEngine(conversation.Config{
		Parser:     parser,
		Matcher:    matcher,
		Prefs:      store,
		Pending:    store.PendingStore(),
		FlowState:  store.FlowStateStore(),
		Transcript: store,
		Flows:      &flowSource{store: store, registry: registry},
		Notifier:   hub,
		Transport:  sender,
		Metrics:    metrics,
		Logger:     logger,
		// SMS gateways throttle hard; pace outbound sends.
		SendRate:  rate.Every(200 * time.Millisecond),
		SendBurst: 5,
	})
	if err != nil {
		log.Fatalf("FATAL: could not build the conversation engine: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("engine-service"))

	routes.SetupRoutes(router, engine, store, hub, registry, os.Getenv("ENGINE_AUTH_TOKEN"))
	log.Println("started up the container")

	log.Println("Starting the engine server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
