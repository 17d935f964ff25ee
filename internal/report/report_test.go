package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/hostprov/internal/fleet"
	"github.com/edvin/hostprov/internal/inventory"
	"github.com/edvin/hostprov/internal/provision"
)

func testResults() []*fleet.HostResult {
	return []*fleet.HostResult{
		{
			Target:       inventory.HostTarget{Name: "app.example.com"},
			InitialState: provision.NoCert,
			FinalState:   provision.CertIssued,
			Duration:     2 * time.Minute,
			Result: &provision.Result{
				Host: "app.example.com",
				Steps: []provision.StepRecord{
					{Phase: provision.PhaseProxy, Step: "package nginx", Outcome: "changed"},
					{Phase: provision.PhaseProxy, Step: "service nginx", Outcome: "unchanged"},
				},
				Handlers: []string{"restart proxy"},
			},
		},
		{
			Target:       inventory.HostTarget{Name: "db.example.com"},
			InitialState: provision.NoCert,
			FinalState:   provision.NoCert,
			Result:       &provision.Result{Host: "db.example.com"},
			Err: &provision.StepError{
				Host:   "db.example.com",
				Phase:  provision.PhaseDatabase,
				Step:   "package postgresql-16",
				Output: "E: Unable to locate package postgresql-16\n",
				Err:    provision.ErrPackageManager,
			},
		},
	}
}

func TestNew(t *testing.T) {
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	r := New("run-1", false, started, testResults())

	require.Len(t, r.Hosts, 2)
	assert.Equal(t, 1, r.Hosts[0].Changed)
	assert.Equal(t, []string{"restart proxy"}, r.Hosts[0].Handlers)
	assert.False(t, r.Hosts[0].Failed)

	db := r.Hosts[1]
	assert.True(t, db.Failed)
	assert.Equal(t, provision.PhaseDatabase, db.FailedPhase)
	assert.Equal(t, "package postgresql-16", db.FailedStep)
	assert.Equal(t, "E: Unable to locate package postgresql-16\n", db.Output)

	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, "2026-10-15/run-1.json", r.Key())
}

func TestRunReport_JSON(t *testing.T) {
	r := New("run-1", true, time.Now(), testResults())
	data, err := encode(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	hosts := decoded["hosts"].([]any)
	first := hosts[0].(map[string]any)
	assert.Equal(t, "no_cert", first["initial_cert_state"])
	assert.Equal(t, "cert_issued", first["final_cert_state"])
	assert.Equal(t, true, decoded["check"])
}

func TestWriteSummary(t *testing.T) {
	r := New("run-1", false, time.Now(), testResults())
	var buf bytes.Buffer

	require.NoError(t, r.WriteSummary(&buf))
	out := buf.String()
	assert.Contains(t, out, "app.example.com")
	assert.Contains(t, out, "no_cert -> cert_issued")
	assert.Contains(t, out, "db.example.com: failed at database / package postgresql-16")
	assert.Contains(t, out, "E: Unable to locate package postgresql-16")
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	r := New("run-1", false, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), testResults())

	require.NoError(t, DirStore{Dir: dir}.Save(context.Background(), r))

	data, err := os.ReadFile(filepath.Join(dir, "2026-10-15", "run-1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Store_Save(t *testing.T) {
	putter := &fakePutter{}
	store := &S3Store{logger: zerolog.Nop(), client: putter, bucket: "reports", prefix: "hostprov"}
	r := New("run-1", false, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), testResults())

	require.NoError(t, store.Save(context.Background(), r))
	assert.Equal(t, "reports", *putter.input.Bucket)
	assert.Equal(t, "hostprov/2026-10-15/run-1.json", *putter.input.Key)
	assert.Equal(t, "application/json", *putter.input.ContentType)
	assert.Contains(t, string(putter.body), `"run_id": "run-1"`)
}

func TestS3Store_SaveError(t *testing.T) {
	store := &S3Store{logger: zerolog.Nop(), client: &fakePutter{err: errors.New("access denied")}, bucket: "reports"}

	err := store.Save(context.Background(), New("run-1", false, time.Now(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Store(t *testing.T) {
	store := NewS3Store(zerolog.Nop(), S3Config{
		Endpoint:  "http://localhost:7480",
		Region:    "us-east-1",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "reports",
	})
	assert.Equal(t, "reports", store.bucket)
	assert.NotNil(t, store.client)
}

type failingStore struct{}

func (failingStore) Save(context.Context, *RunReport) error { return errors.New("disk full") }

func TestMultiStore(t *testing.T) {
	dir := t.TempDir()
	r := New("run-1", false, time.Now(), nil)

	err := MultiStore{DirStore{Dir: dir}, failingStore{}}.Save(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, statErr := os.Stat(filepath.Join(dir, r.Key()))
	assert.NoError(t, statErr)
}
