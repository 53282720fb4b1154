package finder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	"github.com/prometheus/procfs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"
)

// Namespace containerd keeps the CRI managed containers in.
const containerdNamespace = "k8s.io"

// initPIDLookup returns the host PID of a container's init process.
type initPIDLookup interface {
	InitPID(ctx context.Context, containerID string) (int, error)
}

type containerdTasks struct {
	client *containerd.Client
}

func (c *containerdTasks) InitPID(ctx context.Context, containerID string) (int, error) {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)
	container, err := c.client.LoadContainer(ctx, containerID)
	if err != nil {
		return 0, err
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return 0, err
	}
	return int(task.Pid()), nil
}

// KubernetesFinder resolves pods and containers through the CRI API and
// returns every process sharing the PID namespace of a matching container.
type KubernetesFinder struct {
	criClient runtimeapi.RuntimeServiceClient
	tasks     initPIDLookup
	fs        procfs.FS
}

func NewKubernetesFinder(socketPath, procPath string) (*KubernetesFinder, error) {
	slog.Debug("Connecting socket", "socketPath", socketPath)

	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procPath, err)
	}

	// CRI client is used to list pods and containers.
	conn, err := grpc.Dial(fmt.Sprintf("unix://%s", socketPath), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		slog.Error("Failed to connect to CRI socket", "error", err)
		return nil, err
	}

	// Containerd client is used to find init PID of containers.
	containerdClient, err := containerd.New(socketPath)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &KubernetesFinder{
		criClient: runtimeapi.NewRuntimeServiceClient(conn),
		tasks:     &containerdTasks{client: containerdClient},
		fs:        fs,
	}, nil
}

// FindPIDs returns the host PIDs of processes matching the filter.
func (k *KubernetesFinder) FindPIDs(ctx context.Context, filter Filter) ([]int, error) {
	slog.Debug("Getting host PIDs", "filter", filter)

	// List all sandboxes.
	podResp, err := k.criClient.ListPodSandbox(ctx, &runtimeapi.ListPodSandboxRequest{})
	if err != nil {
		slog.Error("Failed to list pod sandboxes", "error", err)
		return nil, err
	}

	// Filter sandboxes by namespace and pod name.
	var podUIDs []string
	for _, sb := range podResp.Items {
		if (filter.Namespace == Wildcard || sb.Labels["io.kubernetes.pod.namespace"] == filter.Namespace) &&
			(filter.Pod == Wildcard || sb.Labels["io.kubernetes.pod.name"] == filter.Pod) {
			podUIDs = append(podUIDs, sb.Labels["io.kubernetes.pod.uid"])
		}
	}
	slog.Debug("Matching pod sandboxes", "num", len(podUIDs))
	if len(podUIDs) == 0 {
		return nil, fmt.Errorf("pod not found in sandboxes (namespace=%s, pod=%s)", filter.Namespace, filter.Pod)
	}

	// Filter containers of each matching pod by container name.
	var containerIDs []string
	for _, podUID := range podUIDs {
		containers, err := k.getContainersForPod(ctx, podUID, filter.Container)
		if err != nil {
			slog.Warn("Failed to list containers", "podUID", podUID, "error", err)
			continue
		}
		for _, c := range containers {
			if c.State != runtimeapi.ContainerState_CONTAINER_RUNNING {
				continue
			}
			containerIDs = append(containerIDs, c.Id)
		}
	}
	slog.Debug("Matching containers", "num", len(containerIDs))
	if len(containerIDs) == 0 {
		return nil, fmt.Errorf("no running containers found in the specified pod(s) (namespace=%s, pod=%s, container=%s)", filter.Namespace, filter.Pod, filter.Container)
	}

	// For each container, get init PID and find all PIDs in the same PID namespace.
	var allPIDs []int
	for _, containerID := range containerIDs {
		initPID, err := k.tasks.InitPID(ctx, containerID)
		if err != nil {
			slog.Error("Failed to get init PID from containerd", "containerID", containerID, "error", err)
			continue
		}
		pidNS, err := k.pidNamespace(initPID)
		if err != nil {
			slog.Error("Failed to get PID namespace", "initPID", initPID, "error", err)
			continue
		}
		allPIDs = append(allPIDs, k.findPIDsInPIDNamespace(pidNS, filter)...)
	}
	slog.Debug("Matching PIDs in containers", "num", len(allPIDs), "pids", allPIDs)
	if len(allPIDs) == 0 {
		return nil, fmt.Errorf("no PIDs found in the specified container(s) (filter=%s)", filter)
	}
	return allPIDs, nil
}

// getContainersForPod lists containers for a given pod UID and optional container name using CRI API.
func (k *KubernetesFinder) getContainersForPod(ctx context.Context, podUID, container string) ([]*runtimeapi.Container, error) {
	filter := &runtimeapi.ContainerFilter{
		LabelSelector: map[string]string{
			"io.kubernetes.pod.uid": podUID,
		},
	}
	if container != Wildcard {
		filter.LabelSelector["io.kubernetes.container.name"] = container
	}
	resp, err := k.criClient.ListContainers(ctx, &runtimeapi.ListContainersRequest{Filter: filter})
	if err != nil {
		return nil, err
	}
	return resp.Containers, nil
}

// pidNamespace returns the PID namespace inode of pid.
func (k *KubernetesFinder) pidNamespace(pid int) (uint32, error) {
	proc, err := k.fs.Proc(pid)
	if err != nil {
		return 0, err
	}
	nss, err := proc.Namespaces()
	if err != nil {
		return 0, err
	}
	ns, ok := nss["pid"]
	if !ok {
		return 0, fmt.Errorf("no pid namespace for %d", pid)
	}
	return ns.Inode, nil
}

// findPIDsInPIDNamespace finds all processes in the PID namespace ns whose
// command matches the filter.
func (k *KubernetesFinder) findPIDsInPIDNamespace(ns uint32, filter Filter) []int {
	procs, err := k.fs.AllProcs()
	if err != nil {
		return nil
	}
	var pids []int
	for _, proc := range procs {
		inode, err := k.pidNamespace(proc.PID)
		if err != nil || inode != ns {
			continue
		}
		if filter.Command != Wildcard {
			comm, err := proc.Comm()
			if err != nil || !filter.MatchCommand(comm) {
				continue
			}
		}
		pids = append(pids, proc.PID)
	}
	return pids
}
