package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/session"
)

// HTTPClient makes REST calls to examwatchd.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// StartSession sends POST /api/session/start.
func (c *HTTPClient) StartSession(candidateName string) (*session.Session, error) {
	var out session.Session
	if err := c.post("/api/session/start", map[string]string{"candidateName": candidateName}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopSession sends POST /api/session/stop.
func (c *HTTPClient) StopSession() (*session.Session, error) {
	var out session.Session
	if err := c.post("/api/session/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig fetches the alert sound settings from /api/config.
func (c *HTTPClient) GetConfig() (*config.SoundConfig, error) {
	var s config.SoundConfig
	if err := c.get("/api/config", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetReport fetches the Markdown report.
func (c *HTTPClient) GetReport() (string, error) {
	data, _, err := c.raw("/api/report")
	return string(data), err
}

// ExportCSV fetches the CSV export and the file name the server suggests.
func (c *HTTPClient) ExportCSV() ([]byte, string, error) {
	data, header, err := c.raw("/api/export.csv")
	if err != nil {
		return nil, "", err
	}
	name := "report.csv"
	if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return data, name, nil
}

func (c *HTTPClient) raw(path string) ([]byte, http.Header, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, resp.Header, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	data, _, err := c.raw(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *HTTPClient) post(path string, body interface{}, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
