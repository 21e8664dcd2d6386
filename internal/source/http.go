package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

const maxErrorBody = 512

// HTTP queries a JSON search provider at GET {baseURL}/search?q=...
// and expects {"documents": [...]} in return.
type HTTP struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTP returns a provider client. A nil client gets one with timeout.
func NewHTTP(baseURL, apiKey string, client *http.Client, timeout time.Duration) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  slog.Default().With("component", "http-source"),
	}
}

func (h *HTTP) Name() string { return "http" }

type searchResponse struct {
	Documents []qdf.Document `json:"documents"`
}

func (h *HTTP) Fetch(ctx context.Context, query string) ([]qdf.Document, error) {
	u := h.baseURL + "/search?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.Terminal(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		h.logger.Warn("search provider error", "status", resp.StatusCode, "query", query)
		return nil, apperrors.NewStatus(resp.StatusCode, "search provider: %s", strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, decodeError(err)
	}
	for i := range out.Documents {
		if out.Documents[i].Source == "" {
			out.Documents[i].Source = h.Name()
		}
	}
	return out.Documents, nil
}

// decodeError keeps malformed payloads terminal. Anything else, such as a
// body cut short by a connection reset, is a read failure worth retrying.
func decodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return apperrors.Terminal(fmt.Errorf("decoding search response: %w", err))
	}
	return apperrors.Transient(fmt.Errorf("reading search response: %w", err))
}
