package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

type ServiceParams struct {
	Config            *config.Config
	Logger            *logger.Logger
	DB                *db.Client
	Redis             *redis.Client
	PubSub            *pubsub.Client
	PaymentsConsumer  *payments.Consumer
	InventoryConsumer *inventory.Consumer
}

type Service struct {
	cfg               *config.Config
	logg              *logger.Logger
	db                *db.Client
	redis             *redis.Client
	pubsub            *pubsub.Client
	paymentsConsumer  *payments.Consumer
	inventoryConsumer *inventory.Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.PaymentsConsumer == nil {
		return nil, errors.New("payments consumer is required")
	}
	if params.InventoryConsumer == nil {
		return nil, errors.New("inventory consumer is required")
	}

	return &Service{
		cfg:               params.Config,
		logg:              params.Logger,
		db:                params.DB,
		redis:             params.Redis,
		pubsub:            params.PubSub,
		paymentsConsumer:  params.PaymentsConsumer,
		inventoryConsumer: params.InventoryConsumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.paymentsConsumer.Run(ctx)
	}()
	go func() {
		errCh <- s.inventoryConsumer.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "consumer stopped unexpectedly", err)
				return err
			}
			return err
		case <-ticker.C:
		}
	}
}
