package door

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the minimal logging interface the registry needs.
// Satisfied by *slog.Logger via the adapter in the logging package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Debug(msg string, args ...any) {}

// Registry provides cached access to doors with persistence.
//
// All reads are served from an in-memory cache and return deep copies,
// so callers can never mutate registry state through a returned Door.
// All writes go through the repository first and update the cache only
// on success.
//
// Per-door serialisation is provided via LockDoor: every state-changing
// occupancy operation must hold the door's lock for the duration of the
// read-validate-persist cycle. Operations on different doors proceed
// concurrently.
type Registry struct {
	repo   Repository
	logger Logger

	cache   map[string]*Door
	cacheMu sync.RWMutex

	doorLocks   map[string]*sync.Mutex
	doorLocksMu sync.Mutex
}

// NewRegistry creates a registry backed by the given repository.
// Call RefreshCache before serving requests.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:      repo,
		logger:    noopLogger{},
		cache:     make(map[string]*Door),
		doorLocks: make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger for registry operations.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache populates the cache from persistent storage.
// Called once at startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	doors, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading doors: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Door, len(doors))
	for i := range doors {
		d := doors[i]
		r.cache[d.ID] = &d
	}

	r.logger.Info("door registry loaded", "count", len(doors))
	return nil
}

// LockDoor acquires the per-door mutex for the given ID and returns the
// unlock function. The lock exists independently of the door itself, so
// create/delete races are serialised too.
func (r *Registry) LockDoor(id string) func() {
	r.doorLocksMu.Lock()
	mu, ok := r.doorLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.doorLocks[id] = mu
	}
	r.doorLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Get retrieves a door by ID. Returns a deep copy.
func (r *Registry) Get(id string) (*Door, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	d, ok := r.cache[id]
	if !ok {
		return nil, ErrDoorNotFound
	}
	return d.DeepCopy(), nil
}

// List retrieves all doors, ordered by cabinet then number. Deep copies.
func (r *Registry) List() []Door {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	doors := make([]Door, 0, len(r.cache))
	for _, d := range r.cache {
		doors = append(doors, *d.DeepCopy())
	}
	sortDoors(doors)
	return doors
}

// ListByCabinet retrieves all doors in a cabinet. Deep copies.
func (r *Registry) ListByCabinet(cabinetID string) []Door {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var doors []Door
	for _, d := range r.cache {
		if d.CabinetID == cabinetID {
			doors = append(doors, *d.DeepCopy())
		}
	}
	sortDoors(doors)
	return doors
}

// ListByStatus retrieves all doors in a given status. Deep copies.
func (r *Registry) ListByStatus(status Status) []Door {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var doors []Door
	for _, d := range r.cache {
		if d.Status == status {
			doors = append(doors, *d.DeepCopy())
		}
	}
	sortDoors(doors)
	return doors
}

// Create validates and persists a new door, then adds it to the cache.
func (r *Registry) Create(ctx context.Context, d *Door) error {
	if err := validateDoor(d); err != nil {
		return err
	}

	if d.Status == "" {
		d.Status = StatusAvailable
	}
	if d.LockState == "" {
		d.LockState = LockStateUnknown
	}
	if d.SensorState == "" {
		d.SensorState = SensorStateUnknown
	}

	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("door created", "door_id", d.ID, "cabinet_id", d.CabinetID, "number", d.Number)
	return nil
}

// Update validates and persists changes to a door, then refreshes the cache.
func (r *Registry) Update(ctx context.Context, d *Door) error {
	if err := validateDoor(d); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	return nil
}

// Delete removes a door from storage and the cache.
// Doors holding parcels cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	unlock := r.LockDoor(id)
	defer unlock()

	d, err := r.Get(id)
	if err != nil {
		return err
	}
	if d.Status != StatusAvailable {
		return fmt.Errorf("%w: cannot delete door in status %s", ErrDoorUnavailable, d.Status)
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("door deleted", "door_id", id)
	return nil
}

// ApplyOccupation persists an occupation and refreshes the cache.
// Caller must hold the door lock.
func (r *Registry) ApplyOccupation(ctx context.Context, d *Door, creds []Credential, mv *Movement) error {
	if err := r.repo.ApplyOccupation(ctx, d, creds, mv); err != nil {
		return err
	}
	r.refresh(d)
	return nil
}

// ApplyValidation persists a credential consumption and door update,
// then refreshes the cache. Caller must hold the door lock.
func (r *Registry) ApplyValidation(ctx context.Context, d *Door, code string, consumedAt time.Time) error {
	if err := r.repo.ApplyValidation(ctx, d, code, consumedAt); err != nil {
		return err
	}
	r.refresh(d)
	return nil
}

// ApplyRelease persists a release and refreshes the cache.
// Caller must hold the door lock.
func (r *Registry) ApplyRelease(ctx context.Context, d *Door, mv *Movement) error {
	if err := r.repo.ApplyRelease(ctx, d, mv); err != nil {
		return err
	}
	r.refresh(d)
	return nil
}

// ApplyCancel persists a cancel and refreshes the cache.
// Caller must hold the door lock.
func (r *Registry) ApplyCancel(ctx context.Context, d *Door, mv *Movement, invalidatedAt time.Time) error {
	if err := r.repo.ApplyCancel(ctx, d, mv, invalidatedAt); err != nil {
		return err
	}
	r.refresh(d)
	return nil
}

// UpdateHardwareState persists a sensor observation and refreshes the
// cached hardware fields. Caller must hold the door lock.
func (r *Registry) UpdateHardwareState(ctx context.Context, id string, lock LockState, sensor SensorState, observedAt time.Time) error {
	if err := r.repo.UpdateHardwareState(ctx, id, lock, sensor, observedAt); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[id]; ok {
		d.LockState = lock
		d.SensorState = sensor
		t := observedAt.UTC()
		d.LastEventAt = &t
		d.UpdatedAt = time.Now().UTC()
	}
	r.cacheMu.Unlock()
	return nil
}

// SetHardwareFlag persists the failed-dispatch flag and refreshes the cache.
func (r *Registry) SetHardwareFlag(ctx context.Context, id string, flagged bool) error {
	if err := r.repo.SetHardwareFlag(ctx, id, flagged); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[id]; ok {
		d.HardwareFlagged = flagged
		d.UpdatedAt = time.Now().UTC()
	}
	r.cacheMu.Unlock()
	return nil
}

// Repository exposes the underlying repository for read paths that are
// not cached, such as credential and movement queries.
func (r *Registry) Repository() Repository {
	return r.repo
}

// refresh replaces the cached copy of a door.
func (r *Registry) refresh(d *Door) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
}

// validateDoor checks the fields required of every door.
func validateDoor(d *Door) error {
	if d.ID == "" {
		return fmt.Errorf("door ID is required")
	}
	if d.CabinetID == "" {
		return fmt.Errorf("cabinet ID is required")
	}
	if d.Number <= 0 {
		return fmt.Errorf("door number must be positive")
	}
	if d.Status != "" && !isValidStatus(d.Status) {
		return fmt.Errorf("invalid door status: %s", d.Status)
	}
	if d.Endpoint.Mode != "" && d.Endpoint.Mode != ModeDirect && d.Endpoint.Mode != ModeQueued {
		return fmt.Errorf("invalid dispatch mode: %s", d.Endpoint.Mode)
	}
	if d.Endpoint.Mode == ModeDirect && d.Endpoint.URL == "" {
		return fmt.Errorf("direct dispatch requires an endpoint URL")
	}
	if d.Endpoint.Mode == ModeQueued && d.Endpoint.ControllerID == "" {
		return fmt.Errorf("queued dispatch requires a controller ID")
	}
	return nil
}

// isValidStatus reports whether s is a recognised door status.
func isValidStatus(s Status) bool {
	for _, v := range AllStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// sortDoors orders doors by cabinet ID, then door number.
func sortDoors(doors []Door) {
	sort.Slice(doors, func(i, j int) bool {
		if doors[i].CabinetID != doors[j].CabinetID {
			return doors[i].CabinetID < doors[j].CabinetID
		}
		return doors[i].Number < doors[j].Number
	})
}
