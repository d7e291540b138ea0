// Package registry is the single authority for registered target
// databases and their in-flight connection handles.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/crypto"
	"github.com/privsense/privsense/pkg/dialect"
	"github.com/privsense/privsense/pkg/logging"
	"github.com/privsense/privsense/pkg/models"
)

const (
	DefaultMaxHandles     = 10
	DefaultAcquireTimeout = 30 * time.Second
)

// Config holds registry limits.
type Config struct {
	// MaxHandlesPerConnection caps concurrent in-flight handles per descriptor.
	MaxHandlesPerConnection int
	// AcquireTimeout bounds how long Borrow blocks waiting for a permit.
	AcquireTimeout time.Duration
	// Pool bounds passed through to each dialect connection.
	PoolMaxConns int32
	PoolMinConns int32
}

// Registry owns connection descriptors and hands out bounded handles.
// Credentials are encrypted at rest and never leave the registry:
// Lookup returns redacted descriptors and nothing here logs passwords.
type Registry struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]*entry
	encryptor *crypto.CredentialEncryptor

	maxHandles     int
	acquireTimeout time.Duration
	poolSettings   dialect.PoolSettings

	logger *zap.Logger
}

// entry tracks one registered descriptor and its live connection.
type entry struct {
	mu         sync.Mutex
	descriptor models.ConnectionDescriptor // password field holds ciphertext
	conn       dialect.Conn                // opened lazily on first Borrow
	permits    chan struct{}
	live       int
	closed     bool // set by Unregister; refuses late borrowers
}

// Handle is a borrowed connection. Callers must Release it; Release is
// idempotent.
type Handle struct {
	ConnectionID uuid.UUID
	Conn         dialect.Conn

	registry *Registry
	once     sync.Once
}

// Release returns the handle's permit to the registry.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.release(h)
	})
}

// New creates a registry. The encryptor protects stored credentials.
func New(cfg Config, encryptor *crypto.CredentialEncryptor, logger *zap.Logger) *Registry {
	if cfg.MaxHandlesPerConnection <= 0 {
		cfg.MaxHandlesPerConnection = DefaultMaxHandles
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	return &Registry{
		entries:        make(map[uuid.UUID]*entry),
		encryptor:      encryptor,
		maxHandles:     cfg.MaxHandlesPerConnection,
		acquireTimeout: cfg.AcquireTimeout,
		poolSettings: dialect.PoolSettings{
			MaxConns: cfg.PoolMaxConns,
			MinConns: cfg.PoolMinConns,
		},
		logger: logger.Named("registry"),
	}
}

// Register validates and stores a descriptor, returning its id.
// The target is pinged before registration so broken credentials are
// rejected up front.
func (r *Registry) Register(ctx context.Context, desc models.ConnectionDescriptor) (uuid.UUID, error) {
	if desc.Host == "" || desc.Database == "" {
		return uuid.Nil, fmt.Errorf("%w: host and database are required", apperrors.ErrValidation)
	}
	if !dialect.Supported(desc.Driver) {
		return uuid.Nil, fmt.Errorf("%w: unsupported driver %q", apperrors.ErrValidation, desc.Driver)
	}

	// Connection test with the plaintext password, before it is sealed.
	conn, err := dialect.Open(ctx, desc, r.poolSettings, r.logger)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", apperrors.ErrConnection, logging.SanitizeError(err))
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return uuid.Nil, fmt.Errorf("%w: %s", apperrors.ErrConnection, logging.SanitizeError(err))
	}

	encrypted, err := r.encryptor.Encrypt(desc.Password)
	if err != nil {
		conn.Close()
		return uuid.Nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	desc.ID = uuid.New()
	desc.Password = encrypted
	desc.CreatedAt = time.Now()

	r.mu.Lock()
	r.entries[desc.ID] = &entry{
		descriptor: desc,
		conn:       conn,
		permits:    make(chan struct{}, r.maxHandles),
	}
	r.mu.Unlock()

	r.logger.Info("connection registered",
		zap.String("connection_id", desc.ID.String()),
		zap.String("driver", desc.Driver),
		zap.String("host", desc.Host),
		zap.String("database", desc.Database))

	return desc.ID, nil
}

// Lookup returns the redacted descriptor for an id.
func (r *Registry) Lookup(id uuid.UUID) (models.ConnectionDescriptor, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return models.ConnectionDescriptor{}, fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id)
	}
	return e.descriptor.Redacted(), nil
}

// Borrow acquires a handle for the connection, blocking until a permit
// is free or the acquire timeout elapses.
func (r *Registry) Borrow(ctx context.Context, id uuid.UUID) (*Handle, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id)
	}

	timer := time.NewTimer(r.acquireTimeout)
	defer timer.Stop()

	select {
	case e.permits <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w: no connection handle available within %s", apperrors.ErrResourceExhausted, r.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := r.connLocked(ctx, e)
	if err != nil {
		<-e.permits
		return nil, err
	}

	e.mu.Lock()
	e.live++
	e.mu.Unlock()

	return &Handle{ConnectionID: id, Conn: conn, registry: r}, nil
}

// connLocked returns the entry's connection, reopening it if a prior
// failure closed it. Decryption happens here and nowhere else.
func (r *Registry) connLocked(ctx context.Context, e *entry) (dialect.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: connection %s was unregistered", apperrors.ErrNotFound, e.descriptor.ID)
	}

	if e.conn != nil {
		if err := e.conn.Ping(ctx); err == nil {
			return e.conn, nil
		}
		// Unhealthy - close and recreate.
		r.logger.Warn("connection unhealthy, recreating",
			zap.String("connection_id", e.descriptor.ID.String()))
		e.conn.Close()
		e.conn = nil
	}

	plaintext, err := r.encryptor.Decrypt(e.descriptor.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrCredentialsKeyMismatch, err)
	}
	desc := e.descriptor
	desc.Password = plaintext

	conn, err := dialect.Open(ctx, desc, r.poolSettings, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConnection, logging.SanitizeError(err))
	}
	e.conn = conn
	return conn, nil
}

// release returns a permit. Called via Handle.Release.
func (r *Registry) release(h *Handle) {
	r.mu.RLock()
	e, ok := r.entries[h.ConnectionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.live > 0 {
		e.live--
	}
	e.mu.Unlock()

	select {
	case <-e.permits:
	default:
	}
}

// LiveHandles returns the number of outstanding handles for an id.
func (r *Registry) LiveHandles(id uuid.UUID) int {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// Unregister removes a descriptor. Fails with Busy while handles are
// outstanding.
func (r *Registry) Unregister(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id)
	}

	// A borrower holds a permit from the moment Borrow admits it, before
	// it increments live, so occupancy of the permit channel is the
	// authoritative busy signal.
	e.mu.Lock()
	busy := e.live
	if held := len(e.permits); held > busy {
		busy = held
	}
	if busy > 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d live handles", apperrors.ErrBusy, busy)
	}
	e.closed = true
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.mu.Unlock()

	delete(r.entries, id)

	r.logger.Info("connection unregistered", zap.String("connection_id", id.String()))
	return nil
}

// List returns redacted descriptors for all registered connections.
func (r *Registry) List() []models.ConnectionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ConnectionDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor.Redacted())
	}
	return out
}

// Close closes all connections. The registry is unusable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.conn != nil {
			e.conn.Close()
		}
	}
	r.entries = make(map[uuid.UUID]*entry)
	r.logger.Info("registry closed")
	return nil
}
