package tracking

import (
	"context"
	"sync"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

type fakeMembership struct {
	companyID int64
	err       error
	calls     int
}

func (m *fakeMembership) VerifyMembership(context.Context, int64, int64) (int64, error) {
	m.calls++
	return m.companyID, m.err
}

type fakeDepartments struct {
	mu    sync.Mutex
	byKey map[[2]int64]int64
	err   error
}

func (d *fakeDepartments) FindDepartment(_ context.Context, userID, companyID int64) (*int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if id, ok := d.byKey[[2]int64{userID, companyID}]; ok {
		return &id, nil
	}
	return nil, nil
}

// fakeStore upserts into a map keyed like the real table and records every
// call's batch.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[location.Key]location.Update
	batches [][]location.Update
	err     error
	panics  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[location.Key]location.Update)}
}

func (s *fakeStore) UpsertLocations(_ context.Context, updates []location.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]location.Update(nil), updates...))
	if s.panics {
		panic("connection pool exploded")
	}
	if s.err != nil {
		return s.err
	}
	for _, u := range updates {
		s.rows[u.Key()] = u
	}
	return nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) calls() [][]location.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]location.Update(nil), s.batches...)
}

func (s *fakeStore) row(k location.Key) (location.Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[k]
	return u, ok
}

type fanoutCall struct {
	update       location.Update
	departmentID *int64
}

type fakeFanout struct {
	mu    sync.Mutex
	calls []fanoutCall
	err   error
}

func (f *fakeFanout) Publish(_ context.Context, u location.Update, dept *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fanoutCall{update: u, departmentID: dept})
	return f.err
}

func (f *fakeFanout) snapshot() []fanoutCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fanoutCall(nil), f.calls...)
}

type recordingProducer struct {
	keys   [][]byte
	values [][]byte
	err    error
}

func (p *recordingProducer) Publish(_ context.Context, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func userUpdate(entityID, eventID int64, lat, lon string) location.Update {
	return location.Update{
		EntityID:   entityID,
		EntityType: location.EntityUser,
		EventID:    eventID,
		CompanyID:  1,
		Latitude:   lat,
		Longitude:  lon,
		Requester:  location.Requester{ID: entityID, Name: "user"},
	}
}
