// Package getui talks to the GeTui RestAPI v2.
//
//	POST {base}/{appId}/auth               {sign, timestamp, appkey}
//	POST {base}/{appId}/push/single/alias  header token: <token>
//
// sign is sha256(appKey + timestamp + masterSecret). Tokens are cached until
// shortly before expire_time.
package getui

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lzyats/im-dispatch/pkg/push"
)

// codeTokenInvalid is returned by GeTui when the cached token expired early.
const codeTokenInvalid = 10001

type Provider struct {
	cfg        push.PushSettings
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	token    string
	expireAt time.Time
}

func New(cfg push.PushSettings) *Provider {
	return NewWithClient(cfg, &http.Client{Timeout: 10 * time.Second})
}

func NewWithClient(cfg push.PushSettings, client *http.Client) *Provider {
	return &Provider{cfg: cfg.WithDefaults(), httpClient: client, now: time.Now}
}

func (p *Provider) Type() string { return "getui" }

type authRequest struct {
	Sign      string `json:"sign"`
	Timestamp string `json:"timestamp"`
	AppKey    string `json:"appkey"`
}

type authResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ExpireTime string `json:"expire_time"`
		Token      string `json:"token"`
	} `json:"data"`
}

type pushRequest struct {
	RequestID string `json:"request_id"`
	Settings  struct {
		TTL int64 `json:"ttl"`
	} `json:"settings"`
	Audience struct {
		Alias []string `json:"alias"`
	} `json:"audience"`
	PushMessage struct {
		Notification struct {
			Title     string `json:"title"`
			Body      string `json:"body"`
			ClickType string `json:"click_type"`
		} `json:"notification"`
		Transmission string `json:"transmission,omitempty"`
	} `json:"push_message"`
}

// pushResponse data is {taskId: {alias: status}}.
type pushResponse struct {
	Code int                          `json:"code"`
	Msg  string                       `json:"msg"`
	Data map[string]map[string]string `json:"data"`
}

func (p *Provider) Push(ctx context.Context, msg push.Message) (push.Result, error) {
	if p.cfg.AppID == "" || p.cfg.AppKey == "" || p.cfg.MasterSecret == "" {
		return p.fail(push.ErrNotConfigured, "")
	}
	if len(msg.Aliases) == 0 {
		return p.fail(fmt.Errorf("getui: %w: no aliases", push.ErrInvalidArgument), "")
	}

	var body pushRequest
	body.RequestID = strings.ReplaceAll(uuid.NewString(), "-", "")
	body.Settings.TTL = p.cfg.TTLMillis
	body.Audience.Alias = msg.Aliases
	body.PushMessage.Notification.Title = msg.Title
	body.PushMessage.Notification.Body = msg.Body
	body.PushMessage.Notification.ClickType = "startapp"
	if len(msg.Data) > 0 {
		b, err := json.Marshal(msg.Data)
		if err != nil {
			return p.fail(err, "")
		}
		body.PushMessage.Transmission = string(b)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return p.fail(err, "")
	}

	resp, raw, err := p.pushOnce(ctx, payload)
	if err == nil && resp.Code == codeTokenInvalid {
		p.invalidate()
		resp, raw, err = p.pushOnce(ctx, payload)
	}
	if err != nil {
		return p.fail(err, raw)
	}
	if resp.Code != 0 {
		return p.fail(fmt.Errorf("getui: code=%d msg=%s", resp.Code, resp.Msg), raw)
	}
	res := push.Result{OK: true, Provider: p.Type(), Body: raw, At: p.now()}
	for task := range resp.Data {
		res.TaskID = task
	}
	return res, nil
}

func (p *Provider) pushOnce(ctx context.Context, payload []byte) (pushResponse, string, error) {
	var out pushResponse
	tok, err := p.getToken(ctx)
	if err != nil {
		return out, "", err
	}
	raw, err := p.post(ctx, "/push/single/alias", tok, payload)
	if err != nil {
		return out, string(raw), err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, string(raw), fmt.Errorf("getui: decode push response: %w", err)
	}
	return out, string(raw), nil
}

func (p *Provider) getToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && p.now().Before(p.expireAt.Add(-2*time.Minute)) {
		t := p.token
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	ts := strconv.FormatInt(p.now().UnixMilli(), 10)
	sum := sha256.Sum256([]byte(p.cfg.AppKey + ts + p.cfg.MasterSecret))
	payload, err := json.Marshal(authRequest{Sign: hex.EncodeToString(sum[:]), Timestamp: ts, AppKey: p.cfg.AppKey})
	if err != nil {
		return "", err
	}
	raw, err := p.post(ctx, "/auth", "", payload)
	if err != nil {
		return "", fmt.Errorf("getui auth: %w", err)
	}
	var r authResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("getui auth: %w", err)
	}
	switch {
	case r.Code != 0:
		return "", fmt.Errorf("getui auth: code=%d msg=%s", r.Code, r.Msg)
	case r.Data.Token == "":
		return "", errors.New("getui auth: empty token")
	}

	exp := p.now().Add(23 * time.Hour)
	if ms, err := strconv.ParseInt(strings.TrimSpace(r.Data.ExpireTime), 10, 64); err == nil && ms > 0 {
		exp = time.UnixMilli(ms)
	}
	p.mu.Lock()
	p.token = r.Data.Token
	p.expireAt = exp
	p.mu.Unlock()
	return r.Data.Token, nil
}

func (p *Provider) invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

func (p *Provider) post(ctx context.Context, path, token string, payload []byte) ([]byte, error) {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + p.cfg.AppID + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	if token != "" {
		req.Header.Set("token", token)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return raw, fmt.Errorf("http %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}

func (p *Provider) fail(err error, body string) (push.Result, error) {
	return push.Result{Provider: p.Type(), Body: body, Error: err.Error(), At: p.now()}, err
}
