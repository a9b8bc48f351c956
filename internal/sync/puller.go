// Package sync pulls pending data from provider APIs for connections that
// are not webhook-driven.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/healthsync/internal/domain"
)

// ErrAuthFailed signals the provider rejected the connection's credentials.
// The puller marks the connection expired; re-authorization happens in the
// external OAuth flow.
var ErrAuthFailed = errors.New("provider rejected credentials")

// Client fetches pending payloads for one connection from a provider API.
type Client interface {
	Provider() domain.Provider
	Fetch(ctx context.Context, conn domain.ProviderConnection, since time.Time) ([][]byte, error)
}

// Store is the persistence surface the puller needs.
type Store interface {
	Connection(ctx context.Context, userID string, provider domain.Provider) (*domain.ProviderConnection, error)
	SyncableConnections(ctx context.Context, notSyncedSince time.Time, limit int) ([]domain.ProviderConnection, error)
	MarkConnectionStatus(ctx context.Context, userID string, provider domain.Provider, status domain.SyncStatus, detail string) error
}

// Ingestor accepts pulled payloads into the ingestion gateway.
type Ingestor interface {
	Ingest(ctx context.Context, provider domain.Provider, payload []byte, receivedAt time.Time) (domain.IngestResult, error)
}

// Config tunes the pull loop.
type Config struct {
	Interval  time.Duration
	Lookback  time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Puller walks syncable connections on an interval and ingests whatever the
// provider APIs have pending. Pulled payloads go through the same dedup path
// as webhooks, so overlap between the two deliveries is harmless.
type Puller struct {
	clients          map[domain.Provider]Client
	store            Store
	ingestor         Ingestor
	cfg              Config
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewPuller constructs a Puller over the given provider clients.
func NewPuller(clients []Client, store Store, ingestor Ingestor, cfg Config) *Puller {
	byProvider := make(map[domain.Provider]Client, len(clients))
	for _, c := range clients {
		byProvider[c.Provider()] = c
	}
	return &Puller{
		clients:          byProvider,
		store:            store,
		ingestor:         ingestor,
		cfg:              cfg.withDefaults(),
		logger:           log.New(log.Writer(), "[pull-sync] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs the pull loop until the context is cancelled. It should be
// called in a goroutine.
func (p *Puller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer func() {
		ticker.Stop()
		close(p.shutdownComplete)
	}()

	for {
		if err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Printf("pass error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the puller has stopped.
func (p *Puller) Wait() {
	<-p.shutdownComplete
}

// RunOnce performs a single pull pass over due connections.
func (p *Puller) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-p.cfg.Interval)
	conns, err := p.store.SyncableConnections(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, conn := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		client, ok := p.clients[conn.Provider]
		if !ok {
			// Webhook-only provider; nothing to pull.
			continue
		}
		p.pullConnection(ctx, client, conn)
	}
	return nil
}

// SyncNow pulls a single (user, provider) connection immediately, outside the
// regular interval. Operators use this after a re-authorization.
func (p *Puller) SyncNow(ctx context.Context, userID string, provider domain.Provider) error {
	client, ok := p.clients[provider]
	if !ok {
		return fmt.Errorf("provider %s is webhook-only", provider)
	}
	conn, err := p.store.Connection(ctx, userID, provider)
	if err != nil {
		return err
	}
	if conn == nil || !conn.Syncable() {
		return domain.ErrNoActiveConnection
	}
	p.pullConnection(ctx, client, *conn)
	return nil
}

func (p *Puller) pullConnection(ctx context.Context, client Client, conn domain.ProviderConnection) {
	since := time.Now().Add(-p.cfg.Lookback)
	if conn.LastSyncAt != nil && conn.LastSyncAt.After(since) {
		since = *conn.LastSyncAt
	}

	payloads, err := client.Fetch(ctx, conn, since)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			p.logger.Printf("auth failure for %s/%s, marking expired", conn.UserID, conn.Provider)
			if markErr := p.store.MarkConnectionStatus(ctx, conn.UserID, conn.Provider, domain.SyncStatusExpired, err.Error()); markErr != nil {
				p.logger.Printf("mark expired %s/%s: %v", conn.UserID, conn.Provider, markErr)
			}
			recordPullAuthFailure(string(conn.Provider))
			return
		}
		p.logger.Printf("fetch %s/%s: %v", conn.UserID, conn.Provider, err)
		recordPullError(string(conn.Provider))
		return
	}

	ingested := 0
	for _, payload := range payloads {
		if _, err := p.ingestor.Ingest(ctx, conn.Provider, payload, time.Now().UTC()); err != nil {
			p.logger.Printf("ingest pulled payload %s/%s: %v", conn.UserID, conn.Provider, err)
			continue
		}
		ingested++
	}
	recordPulled(string(conn.Provider), ingested)
}
