package collabclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client 文档锁 / 在线 / 内容 / 历史接口的 REST 客户端
type Client struct {
	baseURL string
	hc      *http.Client
	token   func() string
}

func New(baseURL string, token func() string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: hc, token: token}
}

type LoginUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RealName string `json:"real_name"`
	Role     string `json:"role"`
}

type LoginResult struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int       `json:"expiresIn"`
	User        LoginUser `json:"user"`
}

type LockGrant struct {
	Granted    bool       `json:"granted"`
	Holder     string     `json:"holder"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type PresenceUpdate struct {
	CursorPosition *int `json:"cursor_position,omitempty"`
	SelectionStart *int `json:"selection_start,omitempty"`
	SelectionEnd   *int `json:"selection_end,omitempty"`
}

type ActiveEditor struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	CursorPosition *int      `json:"cursor_position,omitempty"`
	SelectionStart *int      `json:"selection_start,omitempty"`
	SelectionEnd   *int      `json:"selection_end,omitempty"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

type DocumentState struct {
	DocumentID    string         `json:"document_id"`
	IsLocked      bool           `json:"is_locked"`
	LockedBy      string         `json:"locked_by"`
	ExpiresAt     *time.Time     `json:"expires_at"`
	ActiveEditors []ActiveEditor `json:"active_editors"`
}

type DocumentContent struct {
	Content      string    `json:"content"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastEditedBy string    `json:"last_edited_by,omitempty"`
}

type HistoryItem struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	EditorID      string    `json:"editor_id"`
	EditorName    string    `json:"editor_name"`
	Action        string    `json:"action"`
	Summary       string    `json:"summary"`
	VersionBefore uint64    `json:"version_before"`
	VersionAfter  uint64    `json:"version_after"`
	CreatedAt     time.Time `json:"created_at"`
}

type HistoryPage struct {
	Items []HistoryItem `json:"items"`
	Total int           `json:"total"`
}

type errorBody struct {
	Error          string `json:"error"`
	Holder         string `json:"holder"`
	CurrentVersion uint64 `json:"current_version"`
}

func docPath(docID string) string {
	return "/v1/collaboration/documents/" + url.PathEscape(docID)
}

// Login 不需要 token
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Acquire 423 时返回 *LockConflictError
func (c *Client) Acquire(ctx context.Context, docID string) (*LockGrant, error) {
	var out LockGrant
	err := c.do(ctx, http.MethodPost, docPath(docID)+"/lock", struct{}{}, &out, func(status int, e errorBody) error {
		if status == http.StatusLocked {
			return &LockConflictError{DocumentID: docID, Holder: e.Holder}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Release(ctx context.Context, docID string) error {
	return c.do(ctx, http.MethodPost, docPath(docID)+"/unlock", struct{}{}, nil, notHolderOn423)
}

func (c *Client) Presence(ctx context.Context, docID string, p PresenceUpdate) error {
	return c.do(ctx, http.MethodPost, docPath(docID)+"/presence", p, nil, nil)
}

func (c *Client) State(ctx context.Context, docID string) (*DocumentState, error) {
	var out DocumentState
	if err := c.do(ctx, http.MethodGet, docPath(docID)+"/state", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Write 409 时返回 *VersionConflictError，不会自动重试
func (c *Client) Write(ctx context.Context, docID, content string, expected uint64) (uint64, error) {
	var out struct {
		Version uint64 `json:"version"`
	}
	body := map[string]any{"content": content, "version": expected}
	err := c.do(ctx, http.MethodPut, docPath(docID)+"/content", body, &out, func(status int, e errorBody) error {
		switch status {
		case http.StatusConflict:
			return &VersionConflictError{DocumentID: docID, Expected: expected, Current: e.CurrentVersion}
		case http.StatusLocked:
			return ErrNotHolder
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *Client) Content(ctx context.Context, docID string) (*DocumentContent, error) {
	var out DocumentContent
	if err := c.do(ctx, http.MethodGet, docPath(docID)+"/content", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, docID string, page, pageSize int) (*HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var out HistoryPage
	if err := c.do(ctx, http.MethodGet, docPath(docID)+"/history?"+q.Encode(), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseAll 退出登录时释放自己持有的全部锁
func (c *Client) ReleaseAll(ctx context.Context) (int, error) {
	var out struct {
		Released int `json:"released"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/collaboration/logout", struct{}{}, &out, nil); err != nil {
		return 0, err
	}
	return out.Released, nil
}

func notHolderOn423(status int, _ errorBody) error {
	if status == http.StatusLocked {
		return ErrNotHolder
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, mapErr func(int, errorBody) error) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var e errorBody
	_ = json.NewDecoder(resp.Body).Decode(&e) // 尽力解析错误信息
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	if mapErr != nil {
		if err := mapErr(resp.StatusCode, e); err != nil {
			return err
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return &StatusError{Status: resp.StatusCode, Message: e.Error}
}
