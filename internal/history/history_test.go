package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylight-social/skyops/internal/bootstrap"
)

func clock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func sampleReport() *bootstrap.Report {
	return &bootstrap.Report{
		Project:     "proj",
		Environment: "prod",
		Outcomes: []bootstrap.Outcome{
			{Secret: "elasticsearch-api-key-prod", Source: bootstrap.SourceDegraded, Status: bootstrap.StatusVerified,
				Cause: errors.New("CredentialNotFound: secret has no usable entry\n  Details: x")},
			{Secret: "api-key-prod", Source: bootstrap.SourceSupplied, Status: bootstrap.StatusCreated, Version: "1", Granted: true},
		},
	}
}

func TestFromReport(t *testing.T) {
	t.Parallel()

	run := FromReport("bootstrap", sampleReport())
	assert.Equal(t, "degraded", run.Status)
	require.Len(t, run.Secrets, 2)
	assert.Equal(t, "CredentialNotFound: secret has no usable entry", run.Secrets[0].Error)
	assert.Equal(t, SecretRecord{Secret: "api-key-prod", Source: "supplied", Status: "created", Version: "1", Granted: true}, run.Secrets[1])
}

func TestStoreRecordAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir)
	store.now = clock(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC))

	run := FromReport("bootstrap", sampleReport())
	require.NoError(t, store.Record(run))
	assert.Equal(t, "RUN-20261015-140000-prod", run.ID)

	loaded, err := store.Load(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Secrets, loaded.Secrets)
	assert.True(t, run.Timestamp.Equal(loaded.Timestamp))

	info, err := os.Stat(filepath.Join(dir, RunsDirName, run.ID+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	audit, err := os.ReadFile(filepath.Join(dir, AuditLogName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(audit)), "\n")
	require.Len(t, lines, 1)
	var entry map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, run.ID, entry["run_id"])
	assert.Equal(t, "degraded", entry["status"])
}

func TestStoreLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := NewStore(t.TempDir()).Load("RUN-nope")
	assert.ErrorContains(t, err, "run not found")
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir)

	runs, err := store.List("")
	require.NoError(t, err)
	assert.Empty(t, runs)

	store.now = clock(
		time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	)
	for _, env := range []string{"prod", "stage", "prod"} {
		r := sampleReport()
		r.Environment = env
		require.NoError(t, store.Record(FromReport("bootstrap", r)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, RunsDirName, "broken.json"), []byte("{"), 0600))

	runs, err = store.List("")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "RUN-20261016-090000-prod", runs[0].ID)

	runs, err = store.List("prod")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "RUN-20261014-090000-prod", runs[1].ID)
}
