package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/security"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// Manager owns the two long-lived database handles, one per endpoint.
// Workers never dial on their own; they borrow collections from the
// manager and wrap every network operation in its retry policy.
type Manager struct {
	cfg    *config.Config
	source *mongo.Client
	target *mongo.Client
	logger zerolog.Logger
}

// NewManager builds a manager from configuration. No connection is
// attempted until Connect.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: log.WithComponent("client"),
	}
}

// Connect dials both endpoints and validates them with a ping. Both must
// succeed before any worker starts.
func (m *Manager) Connect(ctx context.Context) error {
	source, err := m.dial(ctx, m.cfg.SourceURI, m.cfg.SourceCAFile)
	if err != nil {
		return fmt.Errorf("failed to connect to source %s: %w", security.RedactURI(m.cfg.SourceURI), err)
	}
	m.source = source

	target, err := m.dial(ctx, m.cfg.TargetURI, m.cfg.TargetCAFile)
	if err != nil {
		_ = source.Disconnect(ctx)
		return fmt.Errorf("failed to connect to target %s: %w", security.RedactURI(m.cfg.TargetURI), err)
	}
	m.target = target

	m.logger.Info().
		Str("source", security.RedactURI(m.cfg.SourceURI)).
		Str("target", security.RedactURI(m.cfg.TargetURI)).
		Msg("Connected to both endpoints")
	return nil
}

func (m *Manager) dial(ctx context.Context, uri, caFile string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName(config.AppName).
		SetMaxPoolSize(m.cfg.MaxPoolSize).
		SetConnectTimeout(m.cfg.ConnectionTimeout).
		SetSocketTimeout(m.cfg.SocketTimeout).
		SetServerSelectionTimeout(m.cfg.ServerSelectionTimeout).
		SetMaxConnIdleTime(m.cfg.MaxIdleTime).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetWriteConcern(writeconcern.Majority())

	if caFile != "" {
		tlsConfig, err := security.LoadCA(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA bundle: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return client, nil
}

// Ping re-validates both endpoints. Used by pre-flight checks and the
// monitor's health probes.
func (m *Manager) Ping(ctx context.Context) error {
	if m.source == nil || m.target == nil {
		return fmt.Errorf("not connected")
	}
	if err := m.source.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("source ping failed: %w", err)
	}
	if err := m.target.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("target ping failed: %w", err)
	}
	return nil
}

// PingSource checks only the source endpoint.
func (m *Manager) PingSource(ctx context.Context) error {
	if m.source == nil {
		return fmt.Errorf("not connected")
	}
	return m.source.Ping(ctx, readpref.Primary())
}

// PingTarget checks only the target endpoint.
func (m *Manager) PingTarget(ctx context.Context) error {
	if m.target == nil {
		return fmt.Errorf("not connected")
	}
	return m.target.Ping(ctx, readpref.Primary())
}

// Source returns the source endpoint handle.
func (m *Manager) Source() *mongo.Client {
	return m.source
}

// Target returns the target endpoint handle.
func (m *Manager) Target() *mongo.Client {
	return m.target
}

// SourceCollection returns the source collection for a mapping.
func (m *Manager) SourceCollection(mapping types.CollectionMapping) *mongo.Collection {
	return m.source.Database(mapping.SourceDB).Collection(mapping.Collection)
}

// TargetCollection returns the target collection for a mapping.
func (m *Manager) TargetCollection(mapping types.CollectionMapping) *mongo.Collection {
	return m.target.Database(mapping.TargetDB).Collection(mapping.Collection)
}

// Close disconnects both endpoints.
func (m *Manager) Close(ctx context.Context) error {
	var firstErr error
	if m.source != nil {
		if err := m.source.Disconnect(ctx); err != nil {
			firstErr = fmt.Errorf("failed to disconnect source: %w", err)
		}
		m.source = nil
	}
	if m.target != nil {
		if err := m.target.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to disconnect target: %w", err)
		}
		m.target = nil
	}
	return firstErr
}
