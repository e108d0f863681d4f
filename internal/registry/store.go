package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the in-memory registry of services, bridges and tool agents.
// Each collection is guarded by its own lock and flushed to the snapshot
// after every mutation; callers never talk to persistence directly.
//
// Inside the store a bridge shares its Service pointer with the service
// collection, so service mutations stay visible through the bridge. Records
// crossing the store boundary are copied in both directions: callers get
// detached snapshots and mutate stored records only through the Update
// methods, which hold the collection lock for the whole read-modify-persist
// cycle.
//
// Lock order is services before bridges; bridge operations take a read lock
// on the service collection because persisted and copied bridges embed
// service fields.
type Store struct {
	logger   *zap.Logger
	snapshot *Snapshot

	servicesMu sync.RWMutex
	services   map[string]*ServiceRecord

	bridgesMu sync.RWMutex
	bridges   map[string]*TranslationRecord

	agentsMu sync.RWMutex
	agents   map[string]*ToolAgentRecord
}

// NewStore creates an empty store backed by the given snapshot codec.
func NewStore(snapshot *Snapshot, logger *zap.Logger) *Store {
	return &Store{
		logger:   logger,
		snapshot: snapshot,
		services: make(map[string]*ServiceRecord),
		bridges:  make(map[string]*TranslationRecord),
		agents:   make(map[string]*ToolAgentRecord),
	}
}

// Load replaces the collections with the persisted snapshots. Bridge
// records are re-linked to the shared service instances, and process state
// that cannot survive a restart (PIDs, running/starting statuses) is
// normalized back to stopped.
func (s *Store) Load() {
	services := s.snapshot.LoadServices()
	s.servicesMu.Lock()
	s.services = services
	s.servicesMu.Unlock()

	bridges := s.snapshot.LoadBridges()
	for _, b := range bridges {
		if b.Service != nil {
			if shared, ok := services[b.Service.ID]; ok {
				b.Service = shared
			}
		}
		if b.Status == StatusRunning || b.Status == StatusStarting {
			b.Status = StatusStopped
		}
		b.PID = 0
	}
	s.bridgesMu.Lock()
	s.bridges = bridges
	s.bridgesMu.Unlock()

	agents := s.snapshot.LoadAgents()
	for _, a := range agents {
		if a.Status == StatusRunning || a.Status == StatusStarting {
			a.Status = StatusStopped
		}
		a.PID = 0
	}
	s.agentsMu.Lock()
	s.agents = agents
	s.agentsMu.Unlock()

	s.logger.Info("Loaded registry snapshots",
		zap.Int("services", len(services)),
		zap.Int("bridges", len(bridges)),
		zap.Int("agents", len(agents)))
}

// Service records

// UpsertService inserts or replaces a service record and flushes the
// collection. A record whose base URL matches an already registered service
// adopts that service's id instead of accumulating a duplicate; rec.ID is
// rewritten so the caller sees the id the record landed under. Existing
// records are updated in place, keeping bridges linked to the same instance.
func (s *Store) UpsertService(rec *ServiceRecord) {
	s.servicesMu.Lock()
	defer s.servicesMu.Unlock()

	if existing, ok := s.services[rec.ID]; ok {
		*existing = *cloneService(rec)
		s.persistServices()
		return
	}
	for _, existing := range s.services {
		if existing.BaseURL == rec.BaseURL {
			rec.ID = existing.ID
			*existing = *cloneService(rec)
			s.persistServices()
			return
		}
	}

	s.services[rec.ID] = cloneService(rec)
	s.persistServices()
}

// GetService returns a copy of the service with the given id.
func (s *Store) GetService(id string) (*ServiceRecord, error) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	rec, ok := s.services[id]
	if !ok {
		return nil, &NotFoundError{Kind: "service", ID: id}
	}
	return cloneService(rec), nil
}

// ListServices returns copies of all service records.
func (s *Store) ListServices() []*ServiceRecord {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	out := make([]*ServiceRecord, 0, len(s.services))
	for _, rec := range s.services {
		out = append(out, cloneService(rec))
	}
	return out
}

// DeleteService removes a service record. Deletion is rejected with a
// ConflictError while any bridge still references the service; the cascade
// is explicit, never implicit.
func (s *Store) DeleteService(id string) error {
	s.servicesMu.Lock()
	defer s.servicesMu.Unlock()

	if _, ok := s.services[id]; !ok {
		return &NotFoundError{Kind: "service", ID: id}
	}

	s.bridgesMu.RLock()
	dependents := 0
	for _, b := range s.bridges {
		if b.Service != nil && b.Service.ID == id {
			dependents++
		}
	}
	s.bridgesMu.RUnlock()

	if dependents > 0 {
		return &ConflictError{Msg: fmt.Sprintf(
			"service %q still referenced by %d bridge(s), delete them first", id, dependents)}
	}

	delete(s.services, id)
	s.persistServices()
	return nil
}

// UpdateServiceStatus mutates only the liveness fields of a service. This
// is the health monitor's sole write path.
func (s *Store) UpdateServiceStatus(id string, status ServiceStatus, lastSeen *time.Time) error {
	s.servicesMu.Lock()
	defer s.servicesMu.Unlock()
	rec, ok := s.services[id]
	if !ok {
		return &NotFoundError{Kind: "service", ID: id}
	}
	rec.Status = status
	if lastSeen != nil {
		rec.LastSeen = lastSeen
	}
	s.persistServices()
	return nil
}

// Translation records

// UpsertBridge inserts or replaces a translation record and flushes the
// collection. The stored copy is re-linked to the shared service instance
// when the referenced service is registered.
func (s *Store) UpsertBridge(rec *TranslationRecord) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	s.bridgesMu.Lock()
	defer s.bridgesMu.Unlock()

	stored := cloneBridge(rec)
	if stored.Service != nil {
		if shared, ok := s.services[stored.Service.ID]; ok {
			stored.Service = shared
		}
	}
	s.bridges[rec.ID] = stored
	s.persistBridges()
}

// GetBridge returns a copy of the translation record with the given id.
func (s *Store) GetBridge(id string) (*TranslationRecord, error) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	s.bridgesMu.RLock()
	defer s.bridgesMu.RUnlock()
	rec, ok := s.bridges[id]
	if !ok {
		return nil, &NotFoundError{Kind: "bridge", ID: id}
	}
	return cloneBridge(rec), nil
}

// ListBridges returns copies of all translation records.
func (s *Store) ListBridges() []*TranslationRecord {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	s.bridgesMu.RLock()
	defer s.bridgesMu.RUnlock()
	out := make([]*TranslationRecord, 0, len(s.bridges))
	for _, rec := range s.bridges {
		out = append(out, cloneBridge(rec))
	}
	return out
}

// UpdateBridge applies fn to the stored record while holding the collection
// lock, then flushes the collection. No other reader or writer observes the
// record mid-mutation. Returns a copy of the updated record.
func (s *Store) UpdateBridge(id string, fn func(*TranslationRecord)) (*TranslationRecord, error) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	s.bridgesMu.Lock()
	defer s.bridgesMu.Unlock()
	rec, ok := s.bridges[id]
	if !ok {
		return nil, &NotFoundError{Kind: "bridge", ID: id}
	}
	fn(rec)
	s.persistBridges()
	return cloneBridge(rec), nil
}

// DeleteBridge removes a translation record. The caller is responsible for
// stopping the backing process first.
func (s *Store) DeleteBridge(id string) error {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	s.bridgesMu.Lock()
	defer s.bridgesMu.Unlock()
	if _, ok := s.bridges[id]; !ok {
		return &NotFoundError{Kind: "bridge", ID: id}
	}
	delete(s.bridges, id)
	s.persistBridges()
	return nil
}

// Tool-agent records

// UpsertAgent inserts or replaces a tool-agent record and flushes the
// collection.
func (s *Store) UpsertAgent(rec *ToolAgentRecord) {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	s.agents[rec.ID] = cloneAgent(rec)
	s.persistAgents()
}

// GetAgent returns a copy of the tool-agent record with the given id.
func (s *Store) GetAgent(id string) (*ToolAgentRecord, error) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	rec, ok := s.agents[id]
	if !ok {
		return nil, &NotFoundError{Kind: "agent", ID: id}
	}
	return cloneAgent(rec), nil
}

// ListAgents returns copies of all tool-agent records.
func (s *Store) ListAgents() []*ToolAgentRecord {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	out := make([]*ToolAgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		out = append(out, cloneAgent(rec))
	}
	return out
}

// UpdateAgent applies fn to the stored record while holding the collection
// lock, then flushes the collection. Returns a copy of the updated record.
func (s *Store) UpdateAgent(id string, fn func(*ToolAgentRecord)) (*ToolAgentRecord, error) {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	rec, ok := s.agents[id]
	if !ok {
		return nil, &NotFoundError{Kind: "agent", ID: id}
	}
	fn(rec)
	s.persistAgents()
	return cloneAgent(rec), nil
}

// DeleteAgent removes a tool-agent record.
func (s *Store) DeleteAgent(id string) error {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return &NotFoundError{Kind: "agent", ID: id}
	}
	delete(s.agents, id)
	s.persistAgents()
	return nil
}

// Record copies. Slices are duplicated because stored records may be
// replaced while a caller still holds the copy.

func cloneService(rec *ServiceRecord) *ServiceRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Tags = append([]string(nil), rec.Tags...)
	out.Capabilities = append([]CapabilityDescriptor(nil), rec.Capabilities...)
	if rec.LastSeen != nil {
		t := *rec.LastSeen
		out.LastSeen = &t
	}
	return &out
}

func cloneBridge(rec *TranslationRecord) *TranslationRecord {
	out := *rec
	out.Service = cloneService(rec.Service)
	if rec.LastHealthCheck != nil {
		t := *rec.LastHealthCheck
		out.LastHealthCheck = &t
	}
	return &out
}

func cloneAgent(rec *ToolAgentRecord) *ToolAgentRecord {
	out := *rec
	out.Args = append([]string(nil), rec.Args...)
	out.Tools = append([]ToolDescriptor(nil), rec.Tools...)
	if rec.LastHealthCheck != nil {
		t := *rec.LastHealthCheck
		out.LastHealthCheck = &t
	}
	return &out
}

// Persistence is best-effort: a failed flush is logged and the in-memory
// state stays authoritative until the next mutation retries the write.
// Every persist call runs under the collection's write lock (plus the
// service read lock for bridges), so records are never marshaled while a
// mutation is in flight.

func (s *Store) persistServices() {
	if err := s.snapshot.SaveServices(s.services); err != nil {
		s.logger.Warn("Failed to persist service records", zap.Error(err))
	}
}

func (s *Store) persistBridges() {
	if err := s.snapshot.SaveBridges(s.bridges); err != nil {
		s.logger.Warn("Failed to persist translation records", zap.Error(err))
	}
}

func (s *Store) persistAgents() {
	if err := s.snapshot.SaveAgents(s.agents); err != nil {
		s.logger.Warn("Failed to persist tool-agent records", zap.Error(err))
	}
}
