package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-floor/internal/domain"
)

var statuses = []domain.TableStatus{domain.TableAvailable, domain.TableOccupied, domain.TableDirty}

// allowed lists every (role, from, to) a non-idempotent request may perform on an unassigned table.
func allowed(role domain.Role, from, to domain.TableStatus) bool {
	switch role {
	case domain.RoleManager:
		return true
	case domain.RoleBusboy:
		return from == domain.TableDirty && to == domain.TableAvailable
	case domain.RoleServer:
		return (from == domain.TableAvailable && to == domain.TableOccupied) ||
			(from == domain.TableOccupied && to == domain.TableDirty)
	}
	return false
}

func TestTableEngine_PermittedTransitionGrid(t *testing.T) {
	for _, user := range []domain.User{server1, busboy, manager} {
		for _, from := range statuses {
			for _, to := range statuses {
				if from == to {
					continue
				}
				name := string(user.Role) + "/" + string(from) + "->" + string(to)
				t.Run(name, func(t *testing.T) {
					f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: from})

					got, err := f.engine.RequestTransition(context.Background(), "t1", to, user)

					if allowed(user.Role, from, to) {
						require.NoError(t, err)
						assert.Equal(t, to, got.Status)
						assert.Equal(t, to, f.table(t, "t1").Status)
						assert.Equal(t, int32(1), f.store.tableWrites.Load())
						assert.Equal(t, []string{"t1:" + string(to)}, f.spy.snapshot())
						return
					}
					require.Error(t, err)
					assert.NotEqual(t, "System error - try again", domain.Reason(err))
					assert.Equal(t, from, f.table(t, "t1").Status)
					assert.Zero(t, f.store.tableWrites.Load(), "no write for rejected transition")
					assert.Empty(t, f.spy.snapshot(), "no broadcast for rejected transition")
				})
			}
		}
	}
}

func TestTableEngine_ServerCannotTouchAnotherServersTable(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableOccupied, AssignedServerID: strPtr("s1")})

	_, err := f.engine.RequestTransition(context.Background(), "t1", domain.TableDirty, server2)
	requireKind(t, err, domain.ErrForbidden)
	assert.Equal(t, "Not allowed for your role", domain.Reason(err))

	tbl, err := f.engine.RequestTransition(context.Background(), "t1", domain.TableDirty, server1)
	require.NoError(t, err)
	assert.Equal(t, domain.TableDirty, tbl.Status)
	assert.Nil(t, tbl.AssignedServerID)
}

func TestTableEngine_AssignmentFollowsLifecycle(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableAvailable})
	ctx := context.Background()

	tbl, err := f.engine.RequestTransition(ctx, "t1", domain.TableOccupied, server1)
	require.NoError(t, err)
	assert.True(t, tbl.AssignedTo("s1"))

	tbl, err = f.engine.RequestTransition(ctx, "t1", domain.TableDirty, server1)
	require.NoError(t, err)
	assert.Nil(t, tbl.AssignedServerID)

	tbl, err = f.engine.RequestTransition(ctx, "t1", domain.TableAvailable, busboy)
	require.NoError(t, err)
	assert.Nil(t, tbl.AssignedServerID)
	assert.Equal(t, []string{"t1:OCCUPIED", "t1:DIRTY", "t1:AVAILABLE"}, f.spy.snapshot())
}

func TestTableEngine_KeepAssignmentOnDirtyWhenConfigured(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableOccupied, AssignedServerID: strPtr("s1")})
	f.engine = NewTableEngine(f.store, f.reg, false, nil)

	tbl, err := f.engine.RequestTransition(context.Background(), "t1", domain.TableDirty, server1)
	require.NoError(t, err)
	assert.True(t, tbl.AssignedTo("s1"))

	tbl, err = f.engine.RequestTransition(context.Background(), "t1", domain.TableAvailable, busboy)
	require.NoError(t, err)
	assert.Nil(t, tbl.AssignedServerID)
}

func TestTableEngine_SameStatusIsNoop(t *testing.T) {
	for _, st := range statuses {
		t.Run(string(st), func(t *testing.T) {
			f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: st})

			got, err := f.engine.RequestTransition(context.Background(), "t1", st, busboy)
			require.NoError(t, err)
			assert.Equal(t, st, got.Status)
			assert.Zero(t, f.store.tableWrites.Load())
			assert.Empty(t, f.spy.snapshot())
		})
	}
}

func TestTableEngine_BusboyCannotSeat(t *testing.T) {
	f := newTableFixture(t,
		domain.Table{ID: "t1", Number: "A1", Status: domain.TableAvailable},
		domain.Table{ID: "t2", Number: "A2", Status: domain.TableAvailable},
	)

	for _, id := range []string{"t1", "t2"} {
		_, err := f.engine.RequestTransition(context.Background(), id, domain.TableOccupied, busboy)
		requireKind(t, err, domain.ErrForbidden)
		assert.Equal(t, domain.TableAvailable, f.table(t, id).Status)
	}
	assert.Empty(t, f.spy.snapshot())
	assert.Zero(t, f.reg.Stats().Published)
}

func TestTableEngine_StoreFailureAbortsBroadcast(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableDirty})
	f.store.failWrites.Store(true)

	_, err := f.engine.RequestTransition(context.Background(), "t1", domain.TableAvailable, busboy)
	requireKind(t, err, domain.ErrStoreFailure)
	assert.Equal(t, "System error - try again", domain.Reason(err))
	assert.Empty(t, f.spy.snapshot())
	assert.Equal(t, domain.TableDirty, f.table(t, "t1").Status)
}

func TestTableEngine_UnknownTable(t *testing.T) {
	f := newTableFixture(t)
	_, err := f.engine.RequestTransition(context.Background(), "nope", domain.TableDirty, manager)
	requireKind(t, err, domain.ErrNotFound)
}

func TestTableEngine_InvalidTargetStatus(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableDirty})
	_, err := f.engine.RequestTransition(context.Background(), "t1", domain.TableStatus("RESERVED"), manager)
	requireKind(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, f.store.tableWrites.Load())
}

func TestTableEngine_RequestTransitionFromDetectsStale(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableDirty})

	_, err := f.engine.RequestTransitionFrom(context.Background(), "t1", domain.TableOccupied, domain.TableDirty, manager)
	requireKind(t, err, domain.ErrStale)
	assert.Zero(t, f.store.tableWrites.Load())
}

func TestTableEngine_ConcurrentRaceHasOneWinner(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableOccupied, AssignedServerID: strPtr("s1")})

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.RequestTransitionFrom(context.Background(), "t1",
				domain.TableOccupied, domain.TableDirty, server1)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			requireKind(t, err, domain.ErrStale)
			stale++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stale)
	assert.Equal(t, []string{"t1:DIRTY"}, f.spy.snapshot())
	assert.Equal(t, int32(1), f.store.tableWrites.Load())
	assert.Zero(t, f.engine.locks.size())
}

func TestTableEngine_VersionConflictIsStale(t *testing.T) {
	f := newTableFixture(t, domain.Table{ID: "t1", Number: "A1", Status: domain.TableOccupied})
	// another process writes behind the engine's back between load and save
	racing := &racingStore{spyStore: f.store}
	engine := NewTableEngine(racing, f.reg, true, nil)

	_, err := engine.RequestTransition(context.Background(), "t1", domain.TableDirty, manager)
	requireKind(t, err, domain.ErrStale)
	assert.Empty(t, f.spy.snapshot())
}

type racingStore struct {
	*spyStore
	once sync.Once
}

func (r *racingStore) LoadTable(ctx context.Context, id string) (domain.Table, error) {
	t, err := r.spyStore.LoadTable(ctx, id)
	r.once.Do(func() {
		cur := t
		cur.Version++
		r.spyStore.PutTable(cur)
	})
	return t, err
}
