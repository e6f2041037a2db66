// Package dockerpool runs each browser inside its own Docker container
// and attaches to it over the Chrome DevTools protocol. Containers are
// labeled with the session they serve so stray ones can be identified.
package dockerpool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/internal/engine"
)

const (
	browserImage  = "browserless/chrome:latest"
	browserPort   = "3000/tcp"
	readyRetries  = 20
	readyInterval = 500 * time.Millisecond
)

// Pool launches one container per browser session on the local Docker
// daemon and connects to each over CDP.
type Pool struct {
	docker *client.Client

	mu sync.Mutex
	pw *playwright.Playwright
}

var _ engine.Backend = (*Pool)(nil)

func New() (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, engine.ErrInit.Msg("docker client creation failed").Err(err)
	}
	return &Pool{docker: cli}, nil
}

func (p *Pool) driver() (*playwright.Playwright, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pw != nil {
		return p.pw, nil
	}
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, engine.ErrInit.Msg("playwright install failed").Err(err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, engine.ErrInit.Msg("playwright driver failed to start").Err(err)
	}
	p.pw = pw
	return pw, nil
}

// EnsureImage pulls the browser image if the daemon does not have it yet.
// Called once at startup so the first session does not pay the pull cost.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.docker.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return engine.ErrInit.Msg("unable to list docker images").Err(err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == browserImage {
				return nil
			}
		}
	}

	log.Info().Str("image", browserImage).Msg("pulling browser image")
	reader, err := p.docker.ImagePull(ctx, browserImage, image.PullOptions{})
	if err != nil {
		return engine.ErrInit.Msg("image pull failed").Err(err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Launch(ctx context.Context, sessionID string) (*engine.BrowserConn, error) {
	containerConfig := &container.Config{
		Image: browserImage,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "wheelhouse",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{browserPort: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			browserPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}

	name := fmt.Sprintf("session-%s", shortID(sessionID))
	resp, err := p.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, engine.ErrInit.Msg("container creation failed").Err(err)
	}

	if err := p.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, engine.ErrInit.Msg("container start failed").Err(err)
	}

	inspect, err := p.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, engine.ErrInit.Msg("container inspect failed").Err(err)
	}
	bindings := inspect.NetworkSettings.Ports[browserPort]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, engine.ErrInit.Msg("container exposed no host port")
	}
	port := bindings[0].HostPort

	if err := waitForBrowser(ctx, port); err != nil {
		p.remove(resp.ID)
		return nil, err
	}

	connectURL := fmt.Sprintf("ws://localhost:%s", port)

	pw, err := p.driver()
	if err != nil {
		p.remove(resp.ID)
		return nil, err
	}
	browser, err := pw.Chromium.ConnectOverCDP(connectURL)
	if err != nil {
		p.remove(resp.ID)
		return nil, engine.ErrInit.Msg("CDP connection failed").Err(err)
	}

	browserCtx, err := browser.NewContext()
	if err != nil {
		browser.Close()
		p.remove(resp.ID)
		return nil, engine.ErrInit.Msg("browser context creation failed").Err(err)
	}
	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		p.remove(resp.ID)
		return nil, engine.ErrInit.Msg("page creation failed").Err(err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("container_id", resp.ID).
		Str("port", port).
		Msg("launched browser container")

	containerID := resp.ID
	return &engine.BrowserConn{
		Page:        page,
		ContainerID: containerID,
		ConnectURL:  connectURL,
		Stop: func() error {
			page.Close()
			browserCtx.Close()
			browser.Close()
			return p.remove(containerID)
		},
	}, nil
}

// remove stops and deletes a container, returning the first error seen.
func (p *Pool) remove(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 10
	err := p.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if rerr := p.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err == nil {
		err = rerr
	}
	if err != nil {
		log.Warn().Err(err).Str("container_id", containerID).Msg("container teardown failed")
	}
	return err
}

// Logs returns the container's combined stdout/stderr stream, demuxed
// from Docker's framing into plain text.
func (p *Pool) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	raw, err := p.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "500",
	})
	if err != nil {
		return nil, engine.ErrAction.Msg("unable to read container logs").Err(err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	if p.pw != nil {
		p.pw.Stop()
		p.pw = nil
	}
	p.mu.Unlock()
	return p.docker.Close()
}

// waitForBrowser polls the DevTools version endpoint until the container
// accepts connections.
func waitForBrowser(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	for i := 0; i < readyRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				time.Sleep(readyInterval)
				return nil
			}
		}
		time.Sleep(readyInterval)
	}
	return engine.ErrInit.Msg("browser container did not become ready")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
