package comet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrRemoteOffline      = errors.New("comet: user not connected on target node")
	ErrRemoteBackpressure = errors.New("comet: target node queue full")
)

// Packet is the frame written to a client socket.
type Packet struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func EncodePacket(channel string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Packet{Channel: channel, Data: data})
}

// HTTPSender delivers packets to another gateway node via HTTP.
// nodeAddr is taken from the Redis route value, e.g. "10.0.0.12:7001" or "http://10.0.0.12:7001".
type HTTPSender struct {
	Client   *http.Client
	PushPath string // e.g. "/internal/push"
}

type pushReq struct {
	UID        string `json:"uid"`
	Channel    string `json:"channel"`
	PacketJSON string `json:"packet_json"`
}

func NewHTTPSender(timeout time.Duration, pushPath string) *HTTPSender {
	if pushPath == "" {
		pushPath = "/internal/push"
	}
	return &HTTPSender{
		Client:   &http.Client{Timeout: timeout},
		PushPath: pushPath,
	}
}

func normalizeAddr(nodeAddr string) string {
	addr := nodeAddr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

func (s *HTTPSender) SendToNode(ctx context.Context, nodeAddr, uid, channel string, packetJSON []byte) error {
	if nodeAddr == "" {
		return fmt.Errorf("empty nodeAddr")
	}
	url := normalizeAddr(nodeAddr) + s.PushPath
	body, _ := json.Marshal(pushReq{UID: uid, Channel: channel, PacketJSON: string(packetJSON)})
	return s.post(ctx, url, body)
}

func (s *HTTPSender) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRemoteOffline
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRemoteBackpressure
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("comet push status=%d", resp.StatusCode)
	}
	return nil
}
