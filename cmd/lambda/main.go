// Command lambda serves the paste API from AWS Lambda behind API Gateway.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/zhejian/pastebin/internal/config"
	"github.com/zhejian/pastebin/internal/observability"
	"github.com/zhejian/pastebin/internal/server"
)

var ginLambda *ginadapter.GinLambda

func handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	gin.SetMode(gin.ReleaseMode)

	// Connections are opened once per execution environment and reused
	// across invocations.
	ctx := context.Background()
	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Environment:  cfg.App.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to setup observability: %v", err)
	}

	store, err := server.OpenStore(ctx, cfg, obs.Logger)
	if err != nil {
		log.Fatalf("Failed to open paste store: %v", err)
	}
	cache, err := server.OpenCache(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect cache: %v", err)
	}
	publisher, _, err := server.OpenPublisher(cfg, obs.Logger)
	if err != nil {
		log.Fatalf("Failed to connect event broker: %v", err)
	}

	router := server.NewRouter(cfg, server.Dependencies{
		Store:         store,
		Cache:         cache,
		Publisher:     publisher,
		Observability: obs,
	})
	ginLambda = ginadapter.New(router)

	lambda.Start(handler)
}
