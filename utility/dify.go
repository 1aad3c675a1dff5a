package utility

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrBackendUnavailable marks any transport-level failure or non-success
// status from the Dify API. The Slack path degrades gracefully on it; the
// direct-chat path surfaces it as a 500.
var ErrBackendUnavailable = errors.New("dify backend unavailable")

const (
	difyDefaultUser = "default_user"
	dataPrefix      = "data: "
	doneMarker      = "[DONE]"
)

// DifyResult is the gateway's uniform response for both transport modes.
type DifyResult struct {
	Answer         string
	ConversationID string
}

// DifyClient talks to the Dify chat-messages API. ResponseMode selects the
// blocking or streaming transport; both expose the same Send contract.
type DifyClient struct {
	BaseURL      string
	APIKey       string
	ResponseMode string
	HTTPClient   *http.Client
}

// NewDifyClient builds a client with a bounded-timeout HTTP client so a hung
// upstream can never block a webhook invocation indefinitely.
func NewDifyClient(baseURL, apiKey, responseMode string) *DifyClient {
	return &DifyClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		ResponseMode: responseMode,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type difyRequest struct {
	Inputs         map[string]interface{} `json:"inputs"`
	Query          string                 `json:"query"`
	User           string                 `json:"user"`
	ResponseMode   string                 `json:"response_mode"`
	ConversationID string                 `json:"conversation_id,omitempty"`
}

// difyFrame covers both the blocking response body and individual streaming
// event frames. Upstream field placement is loosely specified, so the id may
// arrive top-level or nested under "data".
type difyFrame struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
	Data           struct {
		ConversationID string `json:"conversation_id"`
		ID             string `json:"id"`
	} `json:"data"`
}

// conversationIDOf applies the ordered accessor chain for the conversation id.
func (f *difyFrame) conversationIDOf() string {
	for _, v := range []string{f.ConversationID, f.ID, f.Data.ConversationID, f.Data.ID} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Send forwards one user utterance to Dify and returns the answer plus the
// backend-assigned conversation id. The returned ConversationID is never
// empty: when the backend omits it, the input id or a freshly generated token
// is used so stored transcripts always correlate.
func (c *DifyClient) Send(ctx context.Context, message, conversationID, userID, source string) (DifyResult, error) {
	user := difyDefaultUser
	if strings.TrimSpace(userID) != "" {
		user = fmt.Sprintf("%s-%s", source, userID)
	}
	payload := difyRequest{
		Inputs:         map[string]interface{}{},
		Query:          message,
		User:           user,
		ResponseMode:   c.ResponseMode,
		ConversationID: conversationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return DifyResult{}, fmt.Errorf("dify: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return DifyResult{}, fmt.Errorf("dify: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return DifyResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return DifyResult{}, fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var res DifyResult
	if c.ResponseMode == "streaming" {
		res, err = readStream(resp.Body)
	} else {
		res, err = readBlocking(resp.Body)
	}
	if err != nil {
		return DifyResult{}, err
	}
	if res.ConversationID == "" {
		res.ConversationID = conversationID
	}
	if res.ConversationID == "" {
		res.ConversationID = uuid.NewString()
	}
	return res, nil
}

func readBlocking(r io.Reader) (DifyResult, error) {
	var frame difyFrame
	if err := json.NewDecoder(r).Decode(&frame); err != nil {
		return DifyResult{}, fmt.Errorf("%w: decode response: %v", ErrBackendUnavailable, err)
	}
	return DifyResult{Answer: frame.Answer, ConversationID: frame.conversationIDOf()}, nil
}

// readStream consumes line-delimited SSE frames ("data: {...}") until the
// [DONE] sentinel or EOF, concatenating answer fragments. Malformed frames
// are skipped, not fatal.
func readStream(r io.Reader) (DifyResult, error) {
	reader := bufio.NewReader(r)
	var answer strings.Builder
	convID := ""
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, dataPrefix) {
				data := strings.TrimPrefix(line, dataPrefix)
				if data == doneMarker {
					break
				}
				var frame difyFrame
				if jerr := json.Unmarshal([]byte(data), &frame); jerr != nil {
					log.Printf("[Dify] skipping malformed stream frame: %v", jerr)
				} else {
					answer.WriteString(frame.Answer)
					if convID == "" {
						convID = frame.conversationIDOf()
					}
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return DifyResult{}, fmt.Errorf("%w: read stream: %v", ErrBackendUnavailable, err)
		}
	}
	return DifyResult{Answer: strings.TrimSpace(answer.String()), ConversationID: convID}, nil
}
