package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bytedance/sonic"
	"github.com/sethvargo/go-retry"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const DefaultDesktopURL = "http://localhost:8787"

// Desktop command types understood by the companion server.
const (
	CommandOpenFolder   = "openFolder"
	CommandCreateFile   = "createFile"
	CommandCreateFolder = "createFolder"
	CommandRunApp       = "runApp"
	CommandListFiles    = "listFiles"
)

var ErrDesktopUnavailable = errors.New("desktop companion unavailable")

type DesktopCommand struct {
	Type  string `json:"type"`
	Param string `json:"param,omitempty"`
}

type desktopReply struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// DesktopClient runs file system and app commands through the local
// companion server.
type DesktopClient struct {
	logger  shared.LoggerAdapter
	client  *fasthttp.Client
	baseURL string
	// Retries is how often a connection failure is retried.
	Retries uint64
	Backoff time.Duration
}

func NewDesktopClient(logger shared.LoggerAdapter, baseURL string, client *fasthttp.Client) *DesktopClient {
	if baseURL == "" {
		baseURL = DefaultDesktopURL
	}
	return &DesktopClient{
		logger:  logger.With(zap.String("component", "desktop")),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		Retries: 2,
		Backoff: 100 * time.Millisecond,
	}
}

// Run executes cmd and returns the server's confirmation message. Only
// transport errors are retried; a command the server rejected is not.
func (c *DesktopClient) Run(ctx context.Context, cmd DesktopCommand) (string, error) {
	body, err := sonic.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshaling desktop command: %w", err)
	}
	var (
		status int
		resp   []byte
	)
	backoff := retry.WithMaxRetries(c.Retries, retry.NewExponential(c.Backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var herr error
		status, resp, herr = shared.DoHTTP(ctx, c.client, func(req *fasthttp.Request) {
			req.SetRequestURI(c.baseURL + "/api/desktop")
			req.Header.SetMethod(fasthttp.MethodPost)
			req.Header.SetContentType("application/json")
			req.SetBody(body)
		})
		if herr != nil {
			if ctx.Err() != nil {
				return herr
			}
			c.logger.Debug("desktop request failed, retrying", zap.String("type", cmd.Type), zap.Error(herr))
			return retry.RetryableError(herr)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDesktopUnavailable, err)
	}

	var reply desktopReply
	_ = sonic.Unmarshal(resp, &reply)
	if status != fasthttp.StatusOK {
		if reply.Error != "" {
			return "", errors.New(reply.Error)
		}
		return "", fmt.Errorf("desktop command %s failed with status %d", cmd.Type, status)
	}
	if reply.Message == "" {
		reply.Message = "Done"
	}
	c.logger.Info("desktop command done", zap.String("type", cmd.Type), zap.String("param", cmd.Param))
	return reply.Message, nil
}

// HomePath turns a bare folder name into a path under the home directory.
func HomePath(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "~") || strings.HasPrefix(name, "/") {
		return name
	}
	return "~/" + name
}
