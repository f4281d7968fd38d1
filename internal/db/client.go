package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages database connections and operations
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config *Config

	// Write queue for async operations
	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup // Track worker goroutines for graceful shutdown
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeAgentLog WriteType = iota
	WriteTypeAlert
	WriteTypeRunSummary
)

// String returns the string representation of WriteType
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeAgentLog:
		return "AgentLog"
	case WriteTypeAlert:
		return "Alert"
	case WriteTypeRunSummary:
		return "RunSummary"
	default:
		return "Unknown"
	}
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	// Open database connection
	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	// Create circuit breaker wrapped database
	db := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:         db,
		logger:     logger,
		config:     config,
		writeQueue: make(chan WriteRequest, 1000),
		workers:    3,
		stopCh:     make(chan struct{}),
	}

	// Start async write workers
	for i := 0; i < client.workers; i++ {
		client.workerWg.Add(1)
		go client.writeWorker(i)
	}

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// NewClientFromDB wraps an already-open connection. Tests use this with
// sqlmock instead of a live Postgres.
func NewClientFromDB(rawDB *sql.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:         circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		logger:     logger,
		config:     &Config{},
		writeQueue: make(chan WriteRequest, 1000),
		workers:    1,
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < client.workers; i++ {
		client.workerWg.Add(1)
		go client.writeWorker(i)
	}
	return client
}

// writeWorker processes async write requests
func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))

	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-c.stopCh:
			c.logger.Debug("Write worker stopping", zap.Int("worker_id", id))
			return
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	store := NewStore(c)
	switch req.Type {
	case WriteTypeAgentLog:
		if log, ok := req.Data.(*AgentLog); ok {
			err = store.InsertAgentLog(ctx, log)
		} else {
			err = fmt.Errorf("invalid data type for agent log write")
		}
	case WriteTypeAlert:
		if alert, ok := req.Data.(*Alert); ok {
			err = store.InsertAlert(ctx, alert)
		} else {
			err = fmt.Errorf("invalid data type for alert write")
		}
	case WriteTypeRunSummary:
		if summary, ok := req.Data.(*RunSummary); ok {
			err = store.UpsertRunSummary(ctx, summary)
		} else {
			err = fmt.Errorf("invalid data type for run summary write")
		}
	default:
		err = fmt.Errorf("unknown write type: %v", req.Type)
	}

	if err != nil {
		c.logger.Error("Async write failed",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
	if req.Callback != nil {
		req.Callback(err)
	}
}

// EnqueueWrite submits a write request for async processing. When the
// queue is full the write happens synchronously rather than being dropped.
func (c *Client) EnqueueWrite(req WriteRequest) {
	select {
	case c.writeQueue <- req:
	default:
		c.logger.Warn("Write queue full, processing synchronously",
			zap.String("type", req.Type.String()),
		)
		c.processWrite(req)
	}
}

// Wrapper exposes the circuit-breaker-protected database handle.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// Ping checks database connectivity through the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// IsCircuitBreakerOpen reports whether the database breaker is open.
func (c *Client) IsCircuitBreakerOpen() bool {
	return c.db.IsCircuitBreakerOpen()
}

// Close drains pending writes and shuts down the connection pool.
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	c.drainQueue()
	return c.db.Close()
}

// drainQueue processes writes still queued at shutdown
func (c *Client) drainQueue() {
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		default:
			return
		}
	}
}
