package testutil

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/zhejian/pastebin/internal/infra"
)

// TestRabbit holds test RabbitMQ resources
type TestRabbit struct {
	Conn      *amqp.Connection
	URL       string
	container *rabbitmq.RabbitMQContainer
}

// SetupTestRabbit starts a RabbitMQ container and dials it
func SetupTestRabbit(ctx context.Context) (*TestRabbit, error) {
	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-management-alpine",
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
	)
	if err != nil {
		return nil, err
	}

	url, err := container.AmqpURL(ctx)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	conn, err := infra.NewAMQPConnection(url)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	return &TestRabbit{Conn: conn, URL: url, container: container}, nil
}

// Teardown closes the connection and terminates container
func (t *TestRabbit) Teardown(ctx context.Context) {
	if t.Conn != nil {
		_ = t.Conn.Close()
	}
	if t.container != nil {
		if err := t.container.Terminate(ctx); err != nil {
			return
		}
	}
}
