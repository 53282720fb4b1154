package finder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"
)

type fakeProcess struct {
	pid   int
	comm  string
	pidNS uint32
}

// newFakeProcRoot lays out comm and ns/pid for each process.
func newFakeProcRoot(t *testing.T, procs []fakeProcess) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range procs {
		dir := filepath.Join(root, strconv.Itoa(p.pid))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "ns"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(p.comm+"\n"), 0o644))
		require.NoError(t, os.Symlink(fmt.Sprintf("pid:[%d]", p.pidNS), filepath.Join(dir, "ns", "pid")))
	}
	return root
}

var testProcs = []fakeProcess{
	{pid: 1, comm: "systemd", pidNS: 4026531836},
	{pid: 100, comm: "pause", pidNS: 4026532001},
	{pid: 101, comm: "java", pidNS: 4026532001},
	{pid: 102, comm: "sh", pidNS: 4026532001},
	{pid: 200, comm: "pause", pidNS: 4026532002},
	{pid: 201, comm: "nginx", pidNS: 4026532002},
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("default/web/app/java*")
	require.NoError(t, err)
	assert.Equal(t, Filter{Namespace: "default", Pod: "web", Container: "app", Command: "java*"}, f)
	assert.Equal(t, "default/web/app/java*", f.String())
	assert.True(t, f.MatchCommand("javac"))
	assert.False(t, f.MatchCommand("sh"))

	for _, bad := range []string{"default/web/app", "default//app/java", "a/b/c/["} {
		_, err := ParseFilter(bad)
		assert.Error(t, err, bad)
	}
}

func TestProcFinder(t *testing.T) {
	root := newFakeProcRoot(t, testProcs)
	f, err := NewProcFinder(root)
	require.NoError(t, err)

	pids, err := f.FindPIDs(context.Background(), Filter{Command: "pause"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{100, 200}, pids)

	pids, err = f.FindPIDs(context.Background(), Filter{Command: Wildcard})
	require.NoError(t, err)
	assert.Len(t, pids, len(testProcs))

	_, err = f.FindPIDs(context.Background(), Filter{Command: "postgres"})
	assert.Error(t, err)

	fs, err := procfs.NewFS(root)
	require.NoError(t, err)
	comm, err := Comm(fs, 201)
	require.NoError(t, err)
	assert.Equal(t, "nginx", comm)
}

type fakeCRI struct {
	runtimeapi.RuntimeServiceClient
	sandboxes  []*runtimeapi.PodSandbox
	containers map[string][]*runtimeapi.Container
}

func (f *fakeCRI) ListPodSandbox(_ context.Context, _ *runtimeapi.ListPodSandboxRequest, _ ...grpc.CallOption) (*runtimeapi.ListPodSandboxResponse, error) {
	return &runtimeapi.ListPodSandboxResponse{Items: f.sandboxes}, nil
}

func (f *fakeCRI) ListContainers(_ context.Context, in *runtimeapi.ListContainersRequest, _ ...grpc.CallOption) (*runtimeapi.ListContainersResponse, error) {
	sel := in.Filter.LabelSelector
	var out []*runtimeapi.Container
	for _, c := range f.containers[sel["io.kubernetes.pod.uid"]] {
		if name, ok := sel["io.kubernetes.container.name"]; ok && c.Labels["io.kubernetes.container.name"] != name {
			continue
		}
		out = append(out, c)
	}
	return &runtimeapi.ListContainersResponse{Containers: out}, nil
}

type fakeTasks map[string]int

func (f fakeTasks) InitPID(_ context.Context, id string) (int, error) {
	pid, ok := f[id]
	if !ok {
		return 0, fmt.Errorf("container %s not found", id)
	}
	return pid, nil
}

func sandbox(namespace, name, uid string) *runtimeapi.PodSandbox {
	return &runtimeapi.PodSandbox{Labels: map[string]string{
		"io.kubernetes.pod.namespace": namespace,
		"io.kubernetes.pod.name":      name,
		"io.kubernetes.pod.uid":       uid,
	}}
}

func container(id, name string, state runtimeapi.ContainerState) *runtimeapi.Container {
	return &runtimeapi.Container{
		Id:     id,
		State:  state,
		Labels: map[string]string{"io.kubernetes.container.name": name},
	}
}

func newTestKubernetesFinder(t *testing.T) *KubernetesFinder {
	t.Helper()
	fs, err := procfs.NewFS(newFakeProcRoot(t, testProcs))
	require.NoError(t, err)
	return &KubernetesFinder{
		criClient: &fakeCRI{
			sandboxes: []*runtimeapi.PodSandbox{
				sandbox("default", "backend", "uid-backend"),
				sandbox("ingress", "proxy", "uid-proxy"),
			},
			containers: map[string][]*runtimeapi.Container{
				"uid-backend": {
					container("c-app", "app", runtimeapi.ContainerState_CONTAINER_RUNNING),
					container("c-old", "app", runtimeapi.ContainerState_CONTAINER_EXITED),
				},
				"uid-proxy": {
					container("c-nginx", "nginx", runtimeapi.ContainerState_CONTAINER_RUNNING),
				},
			},
		},
		tasks: fakeTasks{"c-app": 100, "c-nginx": 200},
		fs:    fs,
	}
}

func TestKubernetesFinder(t *testing.T) {
	k := newTestKubernetesFinder(t)
	ctx := context.Background()

	tests := []struct {
		filter string
		want   []int
	}{
		{"default/*/*/*", []int{100, 101, 102}},
		{"default/backend/app/java", []int{101}},
		{"*/*/*/pause", []int{100, 200}},
		{"ingress/proxy/nginx/*", []int{200, 201}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := ParseFilter(tt.filter)
			require.NoError(t, err)
			pids, err := k.FindPIDs(ctx, f)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, pids)
		})
	}
}

func TestKubernetesFinderNoMatch(t *testing.T) {
	k := newTestKubernetesFinder(t)
	ctx := context.Background()

	for _, filter := range []string{"kube-system/*/*/*", "default/backend/db/*", "default/backend/app/python"} {
		f, err := ParseFilter(filter)
		require.NoError(t, err)
		_, err = k.FindPIDs(ctx, f)
		assert.Error(t, err, filter)
	}
}
