package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/surveyflow/types"
)

// fakeControlAPI is an in-memory control plane with a configurable profile
// cap and scriptable start failures.
type fakeControlAPI struct {
	mu        sync.Mutex
	nextID    int
	profiles  map[string]ProfileSummary
	running   map[string]bool
	capacity  int
	failStart map[string]bool
	seeded    int // profiles held by other tenants, counted against capacity
}

func newFakeControlAPI(capacity int) *fakeControlAPI {
	return &fakeControlAPI{
		profiles:  make(map[string]ProfileSummary),
		running:   make(map[string]bool),
		capacity:  capacity,
		failStart: make(map[string]bool),
	}
}

func (f *fakeControlAPI) CreateProfile(_ context.Context, req CreateProfileRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.profiles)+f.seeded >= f.capacity {
		return "", types.Errorf(types.ErrQuotaExceeded, "reached the upper limit")
	}
	f.nextID++
	id := fmt.Sprintf("prof-%d", f.nextID)
	f.profiles[id] = ProfileSummary{UserID: id, Name: req.Name}
	return id, nil
}

func (f *fakeControlAPI) UpdateProfile(context.Context, UpdateProfileRequest) error { return nil }

func (f *fakeControlAPI) DeleteProfile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, id)
	delete(f.running, id)
	return nil
}

func (f *fakeControlAPI) ListProfiles(context.Context) ([]ProfileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ProfileSummary, 0, len(f.profiles)+f.seeded)
	for _, p := range f.profiles {
		out = append(out, p)
	}
	for i := 0; i < f.seeded; i++ {
		out = append(out, ProfileSummary{UserID: fmt.Sprintf("tenant-%d", i)})
	}
	return out, nil
}

func (f *fakeControlAPI) StartBrowser(_ context.Context, id string) (*DebugEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart[id] {
		return nil, types.Errorf(types.ErrStartFailed, "scripted start failure")
	}
	if _, ok := f.profiles[id]; !ok {
		return nil, types.Errorf(types.ErrControlPlane, "unknown profile %s", id)
	}
	f.running[id] = true
	return &DebugEndpoint{Host: "127.0.0.1", Port: 9222}, nil
}

func (f *fakeControlAPI) StopBrowser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	return nil
}

func (f *fakeControlAPI) BrowserActive(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id], nil
}

func (f *fakeControlAPI) HealthCheck(context.Context) error { return nil }

func newTestLifecycle(t *testing.T, api ControlAPI, profileCap int) *SessionLifecycle {
	t.Helper()
	alloc, err := NewProxyAllocator([]string{"gw.example.com:4600:user:pass"})
	require.NoError(t, err)
	// Empty echo URL disables the egress probe.
	return NewSessionLifecycle(api, alloc, profileCap, "", nil, nil)
}

func testPersona(id int) types.Persona {
	return types.Persona{ID: id, Name: fmt.Sprintf("persona-%d", id), Age: 30, Gender: "female"}
}

func TestLifecycleProvisionStartTeardown(t *testing.T) {
	api := newFakeControlAPI(15)
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	p, err := lc.Provision(ctx, testPersona(1))
	require.NoError(t, err)
	assert.Equal(t, StateConfigured, p.State)
	assert.Nil(t, p.Endpoint)

	ep, err := lc.Start(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, p.State)
	require.NotNil(t, p.Endpoint)
	assert.Equal(t, 9222, ep.Port)

	require.NoError(t, lc.Teardown(ctx, p))
	assert.Equal(t, StateDeleted, p.State)
	assert.Nil(t, p.Endpoint)
	assert.Empty(t, lc.List())

	// Round trip: the control plane count is back where it started.
	left, err := api.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestLifecycleListNeverContainsDeleted(t *testing.T) {
	api := newFakeControlAPI(15)
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	var profiles []*Profile
	for i := 0; i < 3; i++ {
		p, err := lc.Provision(ctx, testPersona(i))
		require.NoError(t, err)
		profiles = append(profiles, p)
	}
	require.NoError(t, lc.Teardown(ctx, profiles[1]))

	for _, p := range lc.List() {
		assert.NotEqual(t, StateDeleted, p.State)
		assert.NotEqual(t, profiles[1].ID, p.ID)
	}
	assert.Len(t, lc.List(), 2)
}

func TestLifecycleStartFailureTearsDownOrphan(t *testing.T) {
	api := newFakeControlAPI(15)
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	p, err := lc.Provision(ctx, testPersona(1))
	require.NoError(t, err)
	api.failStart[p.ID] = true

	_, err = lc.Start(ctx, p)
	require.Error(t, err)

	// The orphan is gone from both the live set and the control plane.
	assert.Empty(t, lc.List())
	left, _ := api.ListProfiles(ctx)
	assert.Empty(t, left)
	assert.Equal(t, StateDeleted, p.State)
}

func TestLifecycleQuotaExceededMidCohort(t *testing.T) {
	api := newFakeControlAPI(15)
	api.seeded = 14 // other tenants already hold 14 of 15
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	p1, err := lc.Provision(ctx, testPersona(1))
	require.NoError(t, err)

	_, err = lc.Provision(ctx, testPersona(2))
	require.Error(t, err)
	assert.Equal(t, types.ErrQuotaExceeded, types.CodeOf(err))

	_, err = lc.Provision(ctx, testPersona(3))
	require.Error(t, err)
	assert.Equal(t, types.ErrQuotaExceeded, types.CodeOf(err))

	// Teardown releases quota; the next provision succeeds.
	require.NoError(t, lc.Teardown(ctx, p1))
	_, err = lc.Provision(ctx, testPersona(4))
	require.NoError(t, err)
}

func TestLifecycleTeardownIdempotent(t *testing.T) {
	api := newFakeControlAPI(15)
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	p, err := lc.Provision(ctx, testPersona(1))
	require.NoError(t, err)

	require.NoError(t, lc.Teardown(ctx, p))
	require.NoError(t, lc.Teardown(ctx, p), "second teardown must be a no-op")
	assert.Equal(t, StateDeleted, p.State)
}

func TestLifecycleStoppedProfileCannotRestart(t *testing.T) {
	api := newFakeControlAPI(15)
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	p, err := lc.Provision(ctx, testPersona(1))
	require.NoError(t, err)
	_, err = lc.Start(ctx, p)
	require.NoError(t, err)
	require.NoError(t, lc.Stop(ctx, p))
	assert.Equal(t, StateStopped, p.State)
	assert.Nil(t, p.Endpoint)

	// A stopped profile never re-emits a debug endpoint.
	_, err = lc.Start(ctx, p)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.CodeOf(err))
}

func TestLifecycleCleanupAll(t *testing.T) {
	api := newFakeControlAPI(15)
	lc := newTestLifecycle(t, api, 15)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p, err := lc.Provision(ctx, testPersona(i))
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = lc.Start(ctx, p)
			require.NoError(t, err)
		}
	}

	results := lc.CleanupAll(ctx)
	assert.Len(t, results, 4)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.Empty(t, lc.List())
}
