package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"file", func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
			require.NoError(t, err)
			return s
		}},
		{"libsql", func(t *testing.T) Store {
			s, err := NewLibSQLStore(context.Background(), "file:"+filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			return s
		}},
		{"redis", func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()})
			require.NoError(t, err)
			return s
		}},
	}
}

func newState(name string, status schema.SessionStatus, updated time.Time) *schema.SessionState {
	return &schema.SessionState{
		SchemaVersion: schema.StateSchemaVersion,
		Metadata: schema.SessionMetadata{
			SessionID:    uuid.New().String(),
			WorkflowName: name,
			SpecHash:     "abc",
			PatternType:  schema.PatternChain,
			Status:       status,
			CreatedAt:    updated,
			UpdatedAt:    updated,
		},
		Variables:    map[string]any{"topic": "go"},
		PatternState: json.RawMessage(`{"version":1,"pattern_type":"chain","state":{"current_step":1}}`),
		TokenUsage:   schema.TokenUsage{Input: 10, Output: 5},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st := newState("wf", schema.SessionRunning, time.Now().UTC())

		require.NoError(t, s.Save(ctx, st, []byte(`{"name":"wf"}`)))

		got, err := s.Load(ctx, st.Metadata.SessionID)
		require.NoError(t, err)
		assert.Equal(t, st.Metadata.SessionID, got.Metadata.SessionID)
		assert.Equal(t, schema.SessionRunning, got.Metadata.Status)
		assert.Equal(t, "go", got.Variables["topic"])
		assert.Equal(t, 15, got.TokenUsage.Total())
		assert.JSONEq(t, string(st.PatternState), string(got.PatternState))
	})
}

func TestStore_LoadMissingIsNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Load(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

		_, err = s.LoadSpecSnapshot(context.Background(), "missing")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})
}

func TestStore_SnapshotWrittenOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st := newState("wf", schema.SessionRunning, time.Now().UTC())

		require.NoError(t, s.Save(ctx, st, []byte(`{"v":1}`)))
		st.Metadata.Status = schema.SessionPaused
		require.NoError(t, s.Save(ctx, st, []byte(`{"v":2}`)))
		require.NoError(t, s.Save(ctx, st, nil))

		snap, err := s.LoadSpecSnapshot(ctx, st.Metadata.SessionID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(snap))

		got, err := s.Load(ctx, st.Metadata.SessionID)
		require.NoError(t, err)
		assert.Equal(t, schema.SessionPaused, got.Metadata.Status)
	})
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		old := newState("alpha", schema.SessionPaused, base)
		mid := newState("alpha", schema.SessionCompleted, base.Add(time.Minute))
		recent := newState("beta", schema.SessionPaused, base.Add(2*time.Minute))
		for _, st := range []*schema.SessionState{old, mid, recent} {
			require.NoError(t, s.Save(ctx, st, nil))
		}

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, recent.Metadata.SessionID, all[0].SessionID)
		assert.Equal(t, old.Metadata.SessionID, all[2].SessionID)

		paused, err := s.List(ctx, Filter{Status: schema.SessionPaused})
		require.NoError(t, err)
		assert.Len(t, paused, 2)

		alpha, err := s.List(ctx, Filter{WorkflowName: "alpha", Limit: 1})
		require.NoError(t, err)
		require.Len(t, alpha, 1)
		assert.Equal(t, mid.Metadata.SessionID, alpha[0].SessionID)

		// Status change moves the session between indexes.
		recent.Metadata.Status = schema.SessionCompleted
		require.NoError(t, s.Save(ctx, recent, nil))
		paused, err = s.List(ctx, Filter{Status: schema.SessionPaused})
		require.NoError(t, err)
		assert.Len(t, paused, 1)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st := newState("wf", schema.SessionFailed, time.Now().UTC())
		require.NoError(t, s.Save(ctx, st, []byte(`{}`)))

		require.NoError(t, s.Delete(ctx, st.Metadata.SessionID))

		_, err := s.Load(ctx, st.Metadata.SessionID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
		_, err = s.LoadSpecSnapshot(ctx, st.Metadata.SessionID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

		err = s.Delete(ctx, st.Metadata.SessionID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

		list, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestStore_SaveRequiresSessionID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.Save(context.Background(), &schema.SessionState{}, nil)
		assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
	})
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "../etc")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestLibSQLStore_History(t *testing.T) {
	ctx := context.Background()
	s, err := NewLibSQLStore(ctx, "file:"+filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	st := newState("wf", schema.SessionRunning, time.Now().UTC())
	require.NoError(t, s.Save(ctx, st, nil))
	st.Metadata.Status = schema.SessionPaused
	require.NoError(t, s.Save(ctx, st, nil))

	hist, err := s.History(ctx, st.Metadata.SessionID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(1), hist[0].Sequence)
	assert.Equal(t, schema.SessionRunning, hist[0].Status)
	assert.Equal(t, schema.SessionPaused, hist[1].Status)
}

func TestLibSQLStore_MigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	path := "file:" + filepath.Join(t.TempDir(), "m.db")

	s, err := NewLibSQLStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, runMigrations(ctx, s.db))
	require.NoError(t, s.Close())

	s, err = NewLibSQLStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestMigrations_Embedded(t *testing.T) {
	ms, err := loadMigrations(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "sessions", ms[0].name)

	stmts := statements(ms[0].script)
	require.Len(t, stmts, 6)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS sessions"))
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}
