package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource returns the bearer token for the current session.
type TokenSource func() (string, error)

// REST calls the PostgREST and auth endpoints of the hosted backend.
type REST struct {
	baseURL    string
	anonKey    string
	token      TokenSource
	httpClient *http.Client
}

// NewREST creates a REST backend. token may be nil, in which case the anon
// key is sent as the bearer.
func NewREST(baseURL, anonKey string, token TokenSource, timeout time.Duration) *REST {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &REST{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// InsertMessage writes one row into messages.
func (r *REST) InsertMessage(ctx context.Context, m NewMessage) error {
	_, err := r.do(ctx, http.MethodPost, "/rest/v1/messages", nil, m, map[string]string{
		"Prefer": "return=minimal",
	})
	return err
}

// IsParticipant reports whether userID belongs to conversationID.
func (r *REST) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	q := url.Values{}
	q.Set("conversation_id", "eq."+conversationID)
	q.Set("user_id", "eq."+userID)
	q.Set("select", "user_id")
	q.Set("limit", "1")

	data, err := r.do(ctx, http.MethodGet, "/rest/v1/conversation_participants", q, nil, nil)
	if err != nil {
		return false, err
	}
	var rows []struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return false, fmt.Errorf("decode participants: %w", err)
	}
	return len(rows) > 0, nil
}

// GetProfile loads a user's display profile.
func (r *REST) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	q := url.Values{}
	q.Set("id", "eq."+userID)
	q.Set("select", "id,full_name,username,avatar_url")
	q.Set("limit", "1")

	data, err := r.do(ctx, http.MethodGet, "/rest/v1/profiles", q, nil, nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID        string  `json:"id"`
		FullName  *string `json:"full_name"`
		Username  *string `json:"username"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrProfileNotFound
	}
	row := rows[0]
	return &Profile{
		ID:        row.ID,
		FullName:  deref(row.FullName),
		Username:  deref(row.Username),
		AvatarURL: deref(row.AvatarURL),
	}, nil
}

// Health checks that the backend answers. Any response below 500 counts as
// reachable.
func (r *REST) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/auth/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", r.anonKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (r *REST) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) ([]byte, error) {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", r.anonKey)
	bearer := r.anonKey
	if r.token != nil {
		tok, err := r.token()
		if err != nil {
			return nil, err
		}
		bearer = tok
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
	}
	return data, nil
}

// errorMessage extracts PostgREST's {"message": ...} body when present.
func errorMessage(data []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Msg != "" {
			return body.Msg
		}
	}
	return http.StatusText(status)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
