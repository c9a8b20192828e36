package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privadome/privadome-api/internal/procbridge"
	"github.com/privadome/privadome-api/internal/users"
	"github.com/privadome/privadome-api/jobs"
)

type stubCreator struct {
	got users.CreateInput
	err error
}

func (s *stubCreator) CreateSuperuser(_ context.Context, in users.CreateInput) (users.View, error) {
	s.got = in
	if s.err != nil {
		return users.View{}, s.err
	}
	return users.View{ID: 7, Username: in.Username, Email: in.Email, Admin: true}, nil
}

func TestParseCreateSuperuser(t *testing.T) {
	t.Setenv("PRIVADOME_SUPERUSER_PASSWORD", "fromEnv")

	opts, err := ParseCreateSuperuser([]string{"--username", "root", "--email=root@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "root", opts.Username)
	assert.Equal(t, "root@example.com", opts.Email)
	assert.Equal(t, "fromEnv", opts.Password)

	opts, err = ParseCreateSuperuser([]string{"--username", "root", "--password", "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", opts.Password)

	_, err = ParseCreateSuperuser([]string{"--bogus"})
	assert.Error(t, err)
}

func TestCreateSuperuserCommand(t *testing.T) {
	creator := &stubCreator{}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := CreateSuperuserCommand(context.Background(), creator, CreateSuperuserOptions{
		Username: "root",
		Email:    "root@example.com",
		Password: "secret",
		Stdout:   stdout,
		Stderr:   stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "root", creator.got.Username)
	assert.Contains(t, stdout.String(), "Superuser root created (id 7)")
}

func TestCreateSuperuserCommandFailures(t *testing.T) {
	tests := []struct {
		name string
		opts CreateSuperuserOptions
		err  error
		code int
		want string
	}{
		{name: "missing flags", opts: CreateSuperuserOptions{Username: "root"}, code: 2, want: "required"},
		{name: "duplicate", err: users.ErrDuplicateUsername, code: 1, want: "already taken"},
		{name: "invalid email", err: users.ErrInvalidEmail, code: 1, want: "Enter a valid email address."},
		{name: "database", err: errors.New("connection reset"), code: 1, want: "connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if opts.Username == "" {
				opts = CreateSuperuserOptions{Username: "root", Email: "root@example.com", Password: "secret"}
			}
			stderr := new(bytes.Buffer)
			opts.Stdout, opts.Stderr = new(bytes.Buffer), stderr
			code := CreateSuperuserCommand(context.Background(), &stubCreator{err: tt.err}, opts)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestCoreStubPolicyState(t *testing.T) {
	stub := NewCoreStub()

	_, err := stub.Policy("add_group", json.RawMessage(`{"name":"kids","blocklists":["ads"]}`))
	require.NoError(t, err)
	_, err = stub.Policy("add_client", json.RawMessage(`{"address":"10.0.0.2","group":"kids"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"kids"}, stub.Groups())

	out, err := stub.Policy("read_state", nil)
	require.NoError(t, err)
	var state stubState
	require.NoError(t, json.Unmarshal(out, &state))
	assert.Contains(t, state.Groups, "kids")
	assert.Contains(t, state.Clients, "10.0.0.2")

	_, err = stub.Policy("delete_group", json.RawMessage(`{"name":"kids"}`))
	require.NoError(t, err)
	assert.Empty(t, stub.Groups())

	_, err = stub.Policy("delete_group", json.RawMessage(`{"name":"kids"}`))
	assert.Error(t, err)
	_, err = stub.Policy("add_group", json.RawMessage(`{"blocklists":[]}`))
	assert.Error(t, err)
	_, err = stub.Policy("reboot", nil)
	assert.ErrorIs(t, err, errStubUnknownMethod)
}

func TestCoreStubCommandServesBothPorts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan [2]net.Addr, 1)
	done := make(chan int, 1)
	go func() {
		done <- CoreStubCommand(ctx, CoreStubOptions{
			PolicyAddr: "127.0.0.1:0",
			DataAddr:   "127.0.0.1:0",
			Stdout:     new(bytes.Buffer),
			Stderr:     new(bytes.Buffer),
			Ready:      func(p, d net.Addr) { ready <- [2]net.Addr{p, d} },
		})
	}()

	var addrs [2]net.Addr
	select {
	case addrs = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("core stub did not start")
	}

	policy := &procbridge.Client{Host: "127.0.0.1", Port: addrs[0].(*net.TCPAddr).Port, Timeout: 2 * time.Second}
	out, err := policy.Request(ctx, "get_module_configs", nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"network"`)

	_, err = policy.Request(ctx, "delete_client", json.RawMessage(`{"address":"10.0.0.9"}`))
	var remote *procbridge.RemoteError
	require.ErrorAs(t, err, &remote)

	data := &procbridge.Client{Host: "127.0.0.1", Port: addrs[1].(*net.TCPAddr).Port, Timeout: 2 * time.Second}
	out, err = data.Request(ctx, "dns_queries", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tile":"dns_queries","points":[]}`, string(out))

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("core stub did not stop")
	}
}

type stubQueue struct {
	enqueued []*asynq.Task
	info     *asynq.QueueInfo
	closed   int
}

func (s *stubQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.enqueued = append(s.enqueued, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, nil
}

func (s *stubQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "cron-1", Type: jobs.TaskCoreProbe, NextProcessAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}}, nil
}

func (s *stubQueue) Close() error {
	s.closed++
	return nil
}

func TestJobsCommand(t *testing.T) {
	queue := &stubQueue{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2}}
	cli := NewJobsCLIWith(queue, queue)

	stdout := new(bytes.Buffer)
	code := cli.JobsCommand(context.Background(), JobsOptions{Args: []string{"trigger", jobs.TaskCoreProbe}, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, jobs.TaskCoreProbe, queue.enqueued[0].Type())
	assert.Contains(t, stdout.String(), "enqueued core:probe as task-1")

	stdout.Reset()
	code = cli.JobsCommand(context.Background(), JobsOptions{Args: []string{"stats"}, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "pending=2")

	stdout.Reset()
	code = cli.JobsCommand(context.Background(), JobsOptions{Args: []string{"scheduled"}, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "cron-1\tcore:probe\t2026-01-02T03:04:05Z")

	stderr := new(bytes.Buffer)
	code = cli.JobsCommand(context.Background(), JobsOptions{Args: []string{"trigger", "reindex"}, Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unsupported job reindex")

	assert.Equal(t, 2, cli.JobsCommand(context.Background(), JobsOptions{Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))

	require.NoError(t, cli.Close())
	assert.Equal(t, 2, queue.closed)
}
