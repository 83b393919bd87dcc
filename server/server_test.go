package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/models"
	"github.com/tarungka/pipes/internal/pipeline"
	"github.com/tarungka/pipes/sinks"
	"github.com/tarungka/pipes/sources"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fixture struct {
	srv         *httptest.Server
	reg         *pipeline.Registry
	checkpoints checkpoint.Store
	deadletters deadletter.Store
}

func newFixture(t *testing.T, pipes ...string) *fixture {
	t.Helper()
	f := &fixture{
		checkpoints: checkpoint.NewMemoryStore(),
		deadletters: deadletter.NewMemoryStore(),
	}
	f.reg = pipeline.NewRegistry(pipeline.Deps{Checkpoints: f.checkpoints, DeadLetters: f.deadletters})
	for _, name := range pipes {
		_, err := f.reg.Activate(context.Background(), pipeline.PipeConfig{
			Name:         name,
			Source:       sources.Config{Type: sources.TypeMemoryStream, Memory: sources.MemoryConfig{Name: name, Partitions: []string{"0", "1"}}},
			Target:       sinks.Config{Type: sinks.TypeMemoryAppend, PartitionKey: "1", Memory: sinks.MemoryConfig{Partitions: 1}},
			PollInterval: 5 * time.Millisecond,
		})
		require.NoError(t, err)
	}
	f.srv = httptest.NewServer(New("127.0.0.1:0", f.reg, WithStopTimeout(time.Second)).Handler())
	t.Cleanup(func() {
		f.srv.Close()
		f.reg.StopAll(context.Background())
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListPipes(t *testing.T) {
	f := newFixture(t, "clicks", "orders")

	code, env := f.do(t, http.MethodGet, "/pipes")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	var list []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "clicks", list[0].Name)
	assert.Equal(t, "RUNNING", list[0].State)
	assert.Equal(t, "orders", list[1].Name)

	code, env = f.do(t, http.MethodGet, "/pipes?state=failed")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, env = f.do(t, http.MethodGet, "/pipes?state=sleeping")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "sleeping")
}

func TestGetPipe(t *testing.T) {
	f := newFixture(t, "clicks")

	code, env := f.do(t, http.MethodGet, "/pipes/clicks")
	require.Equal(t, http.StatusOK, code)
	var st struct {
		Name       string `json:"name"`
		SourceKind string `json:"source_kind"`
		Capability string `json:"capability"`
		Partitions []struct {
			Partition string `json:"partition"`
			Stage     string `json:"stage"`
		} `json:"partitions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "clicks", st.Name)
	assert.Equal(t, string(sources.KindStream), st.SourceKind)
	assert.Equal(t, string(sinks.Append), st.Capability)
	require.Len(t, st.Partitions, 2)
	assert.Equal(t, "0", st.Partitions[0].Partition)
	assert.NotEmpty(t, st.Partitions[0].Stage)

	code, env = f.do(t, http.MethodGet, "/pipes/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, env.Error, "nope")
}

func TestCheckpointsAndDeadLetters(t *testing.T) {
	f := newFixture(t, "clicks")
	ctx := context.Background()
	require.NoError(t, f.checkpoints.Commit(ctx, checkpoint.Checkpoint{Pipe: "clicks", Partition: "0", Offset: 41}))
	r := models.MustNew([]byte(`{"id":1}`), models.Meta{Source: "clicks", Partition: "0", Offset: 40})
	for i := 0; i < 3; i++ {
		require.NoError(t, f.deadletters.Put(ctx, deadletter.NewEntry("clicks", "0", deadletter.StageDispatch, errors.New("gone"), 3, []models.Record{r})))
	}

	code, env := f.do(t, http.MethodGet, "/pipes/clicks/checkpoints")
	require.Equal(t, http.StatusOK, code)
	var cps []checkpoint.Checkpoint
	require.NoError(t, json.Unmarshal(env.Data, &cps))
	require.Len(t, cps, 1)
	assert.Equal(t, int64(41), cps[0].Offset)

	code, env = f.do(t, http.MethodGet, "/pipes/clicks/deadletters?limit=2")
	require.Equal(t, http.StatusOK, code)
	var entries []deadletter.Entry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Len(t, entries, 2)
	assert.Equal(t, "gone", entries[0].Reason)

	code, _ = f.do(t, http.MethodGet, "/pipes/clicks/deadletters?limit=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStopPipe(t *testing.T) {
	f := newFixture(t, "clicks")

	code, env := f.do(t, http.MethodDelete, "/pipes/clicks")
	require.Equal(t, http.StatusOK, code)
	var res StopResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, StopResult{Pipe: "clicks", State: "STOPPED", Drained: true}, res)

	_, ok := f.reg.Get("clicks")
	assert.False(t, ok)

	code, _ = f.do(t, http.MethodDelete, "/pipes/clicks")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSendResponseWithHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	SendResponseWithHeader(rec, false, nil, "boom", 0, map[string]string{"X-Pipe": "clicks"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "clicks", rec.Header().Get("X-Pipe"))
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, rec.Body.String())
}
