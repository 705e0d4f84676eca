package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bz888/kubechat/internal/api/stream"
	"github.com/bz888/kubechat/internal/logger"
)

// Client talks to the command-approval chat backend.
type Client struct {
	base          *url.URL
	http          *http.Client
	tokens        TokenSource
	loginUrl      *url.URL
	chatUrl       *url.URL
	confirmUrl    *url.URL
	regenerateUrl *url.URL
	streamOpts    []stream.Option
	log           *logger.Logger
}

// ClientConfig holds the configuration for the client
type ClientConfig struct {
	Scheme         string
	Host           string
	LoginPath      string
	ChatPath       string
	ConfirmPath    string
	RegeneratePath string

	// UserID is sent to the login endpoint when Tokens is nil.
	UserID     string
	Tokens     TokenSource
	HTTPClient *http.Client
	// StreamOptions are passed to stream.Open for every chat response.
	StreamOptions []stream.Option
}

var DefaultConfig = ClientConfig{
	Scheme:         "http",
	Host:           "localhost:5000",
	LoginPath:      "/login",
	ChatPath:       "/chat",
	ConfirmPath:    "/confirm",
	RegeneratePath: "/regenerate",
	UserID:         "test_user",
}

// ChatTurn is one user submission. It is immutable once sent.
type ChatTurn struct {
	Query       string `json:"message"`
	SessionID   string `json:"session_id"`
	Cluster     string `json:"cluster"`
	WantsStream bool   `json:"stream"`
}

type confirmRequest struct {
	Confirm   string `json:"confirm"`
	SessionID string `json:"session_id"`
}

type regenerateRequest struct {
	OriginalQuery string `json:"original_query"`
	SessionID     string `json:"session_id"`
	Cluster       string `json:"cluster"`
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a backend client. Empty paths fall back to DefaultConfig.
func NewClient(config ClientConfig) *Client {
	config = withDefaults(config)
	baseURL := &url.URL{Scheme: config.Scheme, Host: config.Host}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		base:          baseURL,
		http:          httpClient,
		loginUrl:      baseURL.ResolveReference(&url.URL{Path: config.LoginPath}),
		chatUrl:       baseURL.ResolveReference(&url.URL{Path: config.ChatPath}),
		confirmUrl:    baseURL.ResolveReference(&url.URL{Path: config.ConfirmPath}),
		regenerateUrl: baseURL.ResolveReference(&url.URL{Path: config.RegeneratePath}),
		streamOpts:    config.StreamOptions,
		log:           logger.NewLogger("api client"),
	}

	c.tokens = config.Tokens
	if c.tokens == nil {
		c.tokens = NewLoginTokenSource(httpClient, c.loginUrl.String(), config.UserID)
	}
	return c
}

// NewClientFromURL builds a client for a server address such as
// "http://localhost:5000".
func NewClientFromURL(rawURL string, config ClientConfig) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must include scheme and host", rawURL)
	}
	config.Scheme = u.Scheme
	config.Host = u.Host
	return NewClient(config), nil
}

func withDefaults(config ClientConfig) ClientConfig {
	if config.Scheme == "" {
		config.Scheme = DefaultConfig.Scheme
	}
	if config.Host == "" {
		config.Host = DefaultConfig.Host
	}
	if config.LoginPath == "" {
		config.LoginPath = DefaultConfig.LoginPath
	}
	if config.ChatPath == "" {
		config.ChatPath = DefaultConfig.ChatPath
	}
	if config.ConfirmPath == "" {
		config.ConfirmPath = DefaultConfig.ConfirmPath
	}
	if config.RegeneratePath == "" {
		config.RegeneratePath = DefaultConfig.RegeneratePath
	}
	if config.UserID == "" {
		config.UserID = DefaultConfig.UserID
	}
	return config
}

func (c *Client) GetChatURL() string {
	return c.chatUrl.String()
}

// Chat posts turn and returns the opened response: a structured reply or a
// live stream the caller must drain or close.
func (c *Client) Chat(ctx context.Context, turn ChatTurn) (*stream.Result, error) {
	c.log.Info("Chat turn: session=", turn.SessionID, " cluster=", turn.Cluster, " stream=", turn.WantsStream)

	resp, err := c.post(ctx, c.chatUrl, turn, "text/event-stream, application/json")
	if err != nil {
		return nil, err
	}
	return stream.Open(ctx, resp, c.streamOpts...)
}

// Confirm answers the pending command of sessionID.
func (c *Client) Confirm(ctx context.Context, sessionID string, yes bool) (stream.StructuredReply, error) {
	answer := "no"
	if yes {
		answer = "yes"
	}
	resp, err := c.post(ctx, c.confirmUrl, confirmRequest{Confirm: answer, SessionID: sessionID}, "application/json")
	if err != nil {
		return stream.StructuredReply{}, err
	}
	return c.decodeReply(ctx, resp)
}

// Regenerate asks for another command suggestion for originalQuery.
func (c *Client) Regenerate(ctx context.Context, sessionID, cluster, originalQuery string) (stream.StructuredReply, error) {
	req := regenerateRequest{OriginalQuery: originalQuery, SessionID: sessionID, Cluster: cluster}
	resp, err := c.post(ctx, c.regenerateUrl, req, "application/json")
	if err != nil {
		return stream.StructuredReply{}, err
	}
	return c.decodeReply(ctx, resp)
}

func (c *Client) decodeReply(ctx context.Context, resp *http.Response) (stream.StructuredReply, error) {
	res, err := stream.Open(ctx, resp)
	if err != nil {
		return stream.StructuredReply{}, err
	}
	if res.Stream != nil {
		res.Stream.Close()
		return stream.StructuredReply{}, &stream.UnexpectedContentTypeError{ContentType: stream.ContentTypeEventStream}
	}
	return *res.Reply, nil
}

func (c *Client) post(ctx context.Context, target *url.URL, payload any, accept string) (*http.Response, error) {
	bts, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	response, err := c.do(ctx, target, bts, accept)
	if err != nil {
		return nil, err
	}

	// A cached token may have expired; log in again once.
	if response.StatusCode == http.StatusUnauthorized {
		if r, ok := c.tokens.(interface{ Reset() }); ok {
			response.Body.Close()
			r.Reset()
			if response, err = c.do(ctx, target, bts, accept); err != nil {
				return nil, err
			}
		}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		defer response.Body.Close()
		statusErr := statusError(response)
		c.log.Error("Received error response: ", statusErr)
		return nil, statusErr
	}
	return response, nil
}

func (c *Client) do(ctx context.Context, target *url.URL, body []byte, accept string) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		c.log.Error("Failed to create request: ", err)
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", accept)
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.http.Do(request)
	if err != nil {
		c.log.Error("Failed to send request: ", err)
		return nil, &stream.TransportError{Err: err, Canceled: ctx.Err() != nil}
	}
	return response, nil
}

func statusError(response *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 64*1024))

	var errResp struct {
		Error    string `json:"error"`
		Response string `json:"response"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Error != "":
			message = errResp.Error
		case errResp.Response != "":
			message = errResp.Response
		}
	}
	return &StatusError{StatusCode: response.StatusCode, Message: message}
}
