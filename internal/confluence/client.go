package confluence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confmig/confmig/internal/logger"
)

const (
	cloudAPIPath  = "/wiki/rest/api"
	serverAPIPath = "/rest/api"
	v2CloudPath   = "/wiki/api/v2"
	v2ServerPath  = "/api/v2"

	pageSize = 50
)

// Options tunes transport behavior. The zero value gets sensible defaults.
type Options struct {
	MaxAttempts   int           // retry attempts per request (default 3)
	RetryBase     time.Duration // base backoff unit (default 1s; tests use 1ms)
	RateLimit     float64       // max requests per second, 0 disables
	Timeout       time.Duration // per-request timeout (default 30s)
	BackoffFactor float64       // backoff multiplier (default 2)
}

func (o *Options) fill() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 2
	}
}

// Client talks to one Confluence instance.
type Client struct {
	baseURL    string
	apiPath    string
	v2Path     string
	username   string
	secret     string
	httpClient *http.Client
	opts       Options

	// Cooperative rate limiting: each caller waits based on the shared
	// last-request timestamp, so the limit is a soft target under concurrency.
	rateMu      sync.Mutex
	lastRequest time.Time
}

// New creates a client for the instance at baseURL. A trailing /wiki is
// stripped; hosts on atlassian.net get the Cloud API paths.
func New(baseURL, username, secret string, opts Options) *Client {
	opts.fill()

	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/wiki")

	apiPath, v2Path := serverAPIPath, v2ServerPath
	if strings.Contains(baseURL, "atlassian.net") {
		apiPath, v2Path = cloudAPIPath, v2CloudPath
	}

	return &Client{
		baseURL:    baseURL,
		apiPath:    apiPath,
		v2Path:     v2Path,
		username:   username,
		secret:     secret,
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

// BaseURL returns the normalized instance URL.
func (c *Client) BaseURL() string { return c.baseURL }

// TestConnection verifies credentials against the instance. If the configured
// API path convention is wrong (Cloud instance addressed as Server or vice
// versa) it probes the alternate path and adopts it on success.
func (c *Client) TestConnection() error {
	err := c.getJSON(c.apiPath+"/user/current", nil, &struct{}{})
	if err == nil {
		return nil
	}
	if IsForbidden(err) {
		return fmt.Errorf("authentication failed: %w", err)
	}

	alt, altV2 := cloudAPIPath, v2CloudPath
	if c.apiPath == cloudAPIPath {
		alt, altV2 = serverAPIPath, v2ServerPath
	}
	if altErr := c.getJSON(alt+"/user/current", nil, &struct{}{}); altErr == nil {
		logger.Info("API path %s failed, switching to %s", c.apiPath, alt)
		c.apiPath = alt
		c.v2Path = altV2
		return nil
	}
	return fmt.Errorf("connection test failed: %w", err)
}

func (c *Client) waitForRateLimit() {
	if c.opts.RateLimit <= 0 {
		return
	}
	minInterval := time.Duration(float64(time.Second) / c.opts.RateLimit)

	c.rateMu.Lock()
	elapsed := time.Since(c.lastRequest)
	var wait time.Duration
	if elapsed < minInterval {
		wait = minInterval - elapsed
	}
	c.lastRequest = time.Now().Add(wait)
	c.rateMu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// doRequest issues one HTTP request with retries. The body is pre-marshaled
// so it can be resent on retry. Retries cover network errors, 5xx, and 429
// (honoring Retry-After); 4xx other than 429 fail immediately.
func (c *Client) doRequest(method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.opts.RetryBase * time.Duration(pow(c.opts.BackoffFactor, attempt-1))
			logger.Debug("retrying %s %s in %v (attempt %d/%d)", method, path, backoff, attempt+1, c.opts.MaxAttempts)
			time.Sleep(backoff)
		}
		c.waitForRateLimit()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth(c.username, c.secret)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: method, URL: reqURL, Message: snippet(respBody)}
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					logger.Warn("rate limited, waiting %ds before retry", secs)
					time.Sleep(time.Duration(secs) * c.opts.RetryBase)
				}
			}
		case resp.StatusCode >= 500:
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: method, URL: reqURL, Message: snippet(respBody)}
		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Method: method, URL: reqURL, Message: snippet(respBody)}
		}
	}
	return nil, lastErr
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func (c *Client) getJSON(path string, query url.Values, out interface{}) error {
	data, err := c.doRequest(http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) sendJSON(method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request payload: %w", err)
		}
	}
	data, err := c.doRequest(method, path, nil, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

type pagedResults struct {
	Results json.RawMessage `json:"results"`
	Size    int             `json:"size"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// getPaged walks v1 offset pagination (start/limit) and appends every page of
// results to collect, which must be a pointer to a slice.
func (c *Client) getPaged(path string, query url.Values, appendPage func(raw json.RawMessage) (int, error)) error {
	if query == nil {
		query = url.Values{}
	}
	start := 0
	for {
		query.Set("start", strconv.Itoa(start))
		query.Set("limit", strconv.Itoa(pageSize))

		var page pagedResults
		if err := c.getJSON(path, query, &page); err != nil {
			return err
		}
		n, err := appendPage(page.Results)
		if err != nil {
			return err
		}
		if n < pageSize {
			return nil
		}
		start += n
	}
}

// ListSpaces returns all spaces visible to the authenticated user.
func (c *Client) ListSpaces() ([]Space, error) {
	var spaces []Space
	err := c.getPaged(c.apiPath+"/space", nil, func(raw json.RawMessage) (int, error) {
		var batch []Space
		if err := json.Unmarshal(raw, &batch); err != nil {
			return 0, fmt.Errorf("failed to decode space list: %w", err)
		}
		spaces = append(spaces, batch...)
		return len(batch), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	return spaces, nil
}

// GetSpace fetches one space by key.
func (c *Client) GetSpace(key string) (*Space, error) {
	var space Space
	if err := c.getJSON(c.apiPath+"/space/"+url.PathEscape(key), nil, &space); err != nil {
		return nil, fmt.Errorf("failed to get space %s: %w", key, err)
	}
	return &space, nil
}

// CreateSpace creates a new space.
func (c *Client) CreateSpace(key, name string) (*Space, error) {
	payload := map[string]interface{}{
		"key":  key,
		"name": name,
	}
	var space Space
	if err := c.sendJSON(http.MethodPost, c.apiPath+"/space", payload, &space); err != nil {
		return nil, fmt.Errorf("failed to create space %s: %w", key, err)
	}
	return &space, nil
}

// ListContent returns all content of contentType ("page" or "blogpost") in
// the space, with body, version and ancestors expanded.
func (c *Client) ListContent(spaceKey, contentType string) ([]Page, error) {
	query := url.Values{}
	query.Set("spaceKey", spaceKey)
	query.Set("type", contentType)
	query.Set("expand", "body.storage,version,ancestors,space")

	var pages []Page
	err := c.getPaged(c.apiPath+"/content", query, func(raw json.RawMessage) (int, error) {
		var batch []Page
		if err := json.Unmarshal(raw, &batch); err != nil {
			return 0, fmt.Errorf("failed to decode content list: %w", err)
		}
		pages = append(pages, batch...)
		return len(batch), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s content in space %s: %w", contentType, spaceKey, err)
	}
	return pages, nil
}

// FindPageByTitle searches the space for content with an exact title match.
// Returns (nil, nil) when no match exists. When several pages share the
// title, the first result wins.
func (c *Client) FindPageByTitle(spaceKey, title, contentType string) (*Page, error) {
	query := url.Values{}
	query.Set("spaceKey", spaceKey)
	query.Set("title", title)
	query.Set("type", contentType)
	query.Set("expand", "version,ancestors")

	var page pagedResults
	if err := c.getJSON(c.apiPath+"/content", query, &page); err != nil {
		return nil, fmt.Errorf("failed to search for page %q in space %s: %w", title, spaceKey, err)
	}
	var batch []Page
	if err := json.Unmarshal(page.Results, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return &batch[0], nil
}

// GetPage fetches one content item by id with the given expansions.
func (c *Client) GetPage(id, expand string) (*Page, error) {
	query := url.Values{}
	if expand != "" {
		query.Set("expand", expand)
	}
	var page Page
	if err := c.getJSON(c.apiPath+"/content/"+url.PathEscape(id), query, &page); err != nil {
		return nil, fmt.Errorf("failed to get content %s: %w", id, err)
	}
	return &page, nil
}

// CreatePage creates a page or blogpost. The payload's Space and Title are
// required; Ancestors, when set, request a page parent (the API silently
// ignores non-page parents, which callers compensate for with MoveContent).
func (c *Client) CreatePage(page *Page) (*Page, error) {
	if page.Type == "" {
		page.Type = "page"
	}
	var created Page
	if err := c.sendJSON(http.MethodPost, c.apiPath+"/content", page, &created); err != nil {
		return nil, fmt.Errorf("failed to create %s %q: %w", page.Type, page.Title, err)
	}
	return &created, nil
}

// UpdatePage updates an existing page. page.Version.Number must be the next
// version (current + 1).
func (c *Client) UpdatePage(page *Page) (*Page, error) {
	var updated Page
	if err := c.sendJSON(http.MethodPut, c.apiPath+"/content/"+url.PathEscape(page.ID), page, &updated); err != nil {
		return nil, fmt.Errorf("failed to update page %q (%s): %w", page.Title, page.ID, err)
	}
	return &updated, nil
}

// DeletePage deletes a content item.
func (c *Client) DeletePage(id string) error {
	if _, err := c.doRequest(http.MethodDelete, c.apiPath+"/content/"+url.PathEscape(id), nil, nil, ""); err != nil {
		return fmt.Errorf("failed to delete content %s: %w", id, err)
	}
	return nil
}

// MoveContent moves a content item relative to a target container or page.
// position is one of "append", "before", "after".
func (c *Client) MoveContent(id, position, targetID string) error {
	path := fmt.Sprintf("%s/content/%s/move/%s/%s",
		c.apiPath, url.PathEscape(id), url.PathEscape(position), url.PathEscape(targetID))
	if _, err := c.doRequest(http.MethodPut, path, nil, nil, ""); err != nil {
		return fmt.Errorf("failed to move content %s under %s: %w", id, targetID, err)
	}
	return nil
}

type attachmentResult struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Extensions struct {
		MediaType string `json:"mediaType"`
		FileSize  int64  `json:"fileSize"`
	} `json:"extensions"`
	Links struct {
		Download string `json:"download"`
	} `json:"_links"`
}

// ListAttachments returns all attachments of a page.
func (c *Client) ListAttachments(pageID string) ([]Attachment, error) {
	var attachments []Attachment
	err := c.getPaged(c.apiPath+"/content/"+url.PathEscape(pageID)+"/child/attachment", nil,
		func(raw json.RawMessage) (int, error) {
			var batch []attachmentResult
			if err := json.Unmarshal(raw, &batch); err != nil {
				return 0, fmt.Errorf("failed to decode attachment list: %w", err)
			}
			for _, a := range batch {
				attachments = append(attachments, Attachment{
					ID:           a.ID,
					Title:        a.Title,
					MediaType:    a.Extensions.MediaType,
					FileSize:     a.Extensions.FileSize,
					DownloadLink: a.Links.Download,
				})
			}
			return len(batch), nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments of %s: %w", pageID, err)
	}
	return attachments, nil
}

// DownloadAttachment fetches attachment bytes. downloadLink is the
// instance-relative link from the attachment listing.
func (c *Client) DownloadAttachment(downloadLink string) ([]byte, error) {
	path := downloadLink
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	// Cloud download links are relative to /wiki.
	if c.apiPath == cloudAPIPath && !strings.HasPrefix(path, "/wiki/") {
		path = "/wiki" + path
	}
	data, err := c.doRequest(http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	return data, nil
}

// UploadAttachment uploads one file to a page.
func (c *Client) UploadAttachment(pageID, filename string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}

	path := c.apiPath + "/content/" + url.PathEscape(pageID) + "/child/attachment"
	reqURL := c.baseURL + path

	// Multipart bodies go through a one-shot request: the Atlassian check
	// token header is required and retry-with-backoff buys nothing for
	// uploads that large.
	c.waitForRateLimit()
	req, err := http.NewRequest(http.MethodPost, reqURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.SetBasicAuth(c.username, c.secret)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "nocheck")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload attachment %s: %w", filename, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Method: http.MethodPost, URL: reqURL, Message: snippet(respBody)}
	}
	return nil
}

// ListComments returns all comments of a page with bodies expanded.
func (c *Client) ListComments(pageID string) ([]Comment, error) {
	query := url.Values{}
	query.Set("expand", "body.storage")

	var comments []Comment
	err := c.getPaged(c.apiPath+"/content/"+url.PathEscape(pageID)+"/child/comment", query,
		func(raw json.RawMessage) (int, error) {
			var batch []Comment
			if err := json.Unmarshal(raw, &batch); err != nil {
				return 0, fmt.Errorf("failed to decode comment list: %w", err)
			}
			comments = append(comments, batch...)
			return len(batch), nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments of %s: %w", pageID, err)
	}
	return comments, nil
}
