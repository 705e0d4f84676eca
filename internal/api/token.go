package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/bz888/kubechat/internal/api/stream"
)

// TokenSource supplies the bearer token attached to backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// LoginTokenSource obtains a token from the backend login endpoint once and
// reuses it.
type LoginTokenSource struct {
	http     *http.Client
	loginURL string
	userID   string

	mu    sync.Mutex
	token string
}

func NewLoginTokenSource(httpClient *http.Client, loginURL, userID string) *LoginTokenSource {
	return &LoginTokenSource{http: httpClient, loginURL: loginURL, userID: userID}
}

func (s *LoginTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	bts, err := json.Marshal(map[string]string{"user_id": s.userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewBuffer(bts))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", &stream.TransportError{Err: err, Canceled: ctx.Err() != nil}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", errors.New("login response carried no token")
	}
	s.token = data.Token
	return s.token, nil
}

// Reset forgets the cached token so the next call logs in again.
func (s *LoginTokenSource) Reset() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
