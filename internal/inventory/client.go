package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/himpar21/medisync/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	pathMedicines = "/api/inventory/medicines"
	pathStock     = "/api/inventory/stock/"
)

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inventory %s: unexpected status %d", e.Op, e.Status)
}

// Client talks to the inventory provider over HTTP. Every call is bounded by
// timeout and runs through a circuit breaker, so a dead provider costs one
// fast failure instead of a full timeout per request.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:        "inventory",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx is the provider answering; only transport errors and 5xx count.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < http.StatusInternalServerError
			}
			return err == nil
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

func (c *Client) ListMedicines(ctx context.Context, filter domain.MedicineFilter) ([]domain.Medicine, error) {
	query := url.Values{}
	if filter.Query != "" {
		query.Set("q", filter.Query)
	}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	target := pathMedicines
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, err := c.do(ctx, "list", http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return decodeMedicineList(body)
}

func (c *Client) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	body, err := c.do(ctx, "get", http.MethodGet, pathMedicines+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Medicine *remoteMedicine `json:"medicine"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Medicine != nil {
		m := wrapped.Medicine.toDomain()
		return &m, nil
	}

	var bare remoteMedicine
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("decode medicine: %w", err)
	}
	if bare.id() == "" {
		return nil, fmt.Errorf("decode medicine: empty payload")
	}
	m := bare.toDomain()
	return &m, nil
}

// Verify asks the provider whether lines can be covered. A response without a
// boolean ok field counts as ok.
func (c *Client) Verify(ctx context.Context, lines []domain.StockLine) (bool, []domain.Unavailable, error) {
	body, err := c.do(ctx, "verify", http.MethodPost, pathStock+"verify", stockPayload{Items: lines})
	if err != nil {
		return false, nil, err
	}

	var resp struct {
		OK          *bool                `json:"ok"`
		Unavailable []domain.Unavailable `json:"unavailable"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return true, []domain.Unavailable{}, nil
		}
	}
	if resp.OK == nil {
		return true, []domain.Unavailable{}, nil
	}
	if resp.Unavailable == nil {
		resp.Unavailable = []domain.Unavailable{}
	}
	return *resp.OK, resp.Unavailable, nil
}

func (c *Client) Reserve(ctx context.Context, lines []domain.StockLine, reference string) error {
	_, err := c.do(ctx, "reserve", http.MethodPost, pathStock+"reserve", stockPayload{Reference: reference, Items: lines})
	return err
}

func (c *Client) Deduct(ctx context.Context, lines []domain.StockLine, reference string) error {
	_, err := c.do(ctx, "deduct", http.MethodPost, pathStock+"deduct", stockPayload{Reference: reference, Items: lines})
	return err
}

func (c *Client) Release(ctx context.Context, lines []domain.StockLine, reference string) error {
	_, err := c.do(ctx, "release", http.MethodPost, pathStock+"release", stockPayload{Reference: reference, Items: lines})
	return err
}

type stockPayload struct {
	Reference string             `json:"reference,omitempty"`
	Items     []domain.StockLine `json:"items"`
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("inventory %s: marshal: %w", op, err)
			}
			reader = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("inventory %s: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("inventory %s: %w", op, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("inventory %s: read body: %w", op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Op: op, Status: resp.StatusCode}
		}
		return body, nil
	})
}

// remoteMedicine accepts the id under _id, id or medicineId and numbers that
// arrive as strings.
type remoteMedicine struct {
	MongoID      string     `json:"_id"`
	ID           string     `json:"id"`
	MedicineID   string     `json:"medicineId"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	Price        flexNumber `json:"price"`
	Stock        flexNumber `json:"stock"`
	Manufacturer string     `json:"manufacturer"`
}

func (r remoteMedicine) id() string {
	switch {
	case r.MongoID != "":
		return r.MongoID
	case r.ID != "":
		return r.ID
	default:
		return r.MedicineID
	}
}

func (r remoteMedicine) toDomain() domain.Medicine {
	m := domain.Medicine{
		ID:           r.id(),
		Name:         r.Name,
		Category:     r.Category,
		Price:        float64(r.Price),
		Stock:        int(r.Stock),
		Manufacturer: r.Manufacturer,
	}
	if m.Category == "" {
		m.Category = domain.DefaultCategory
	}
	if m.Manufacturer == "" {
		m.Manufacturer = "Unknown"
	}
	return m
}

func decodeMedicineList(body []byte) ([]domain.Medicine, error) {
	var items []remoteMedicine

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode medicines: %w", err)
		}
	} else {
		var wrapped struct {
			Items     []remoteMedicine `json:"items"`
			Medicines []remoteMedicine `json:"medicines"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode medicines: %w", err)
		}
		items = wrapped.Items
		if items == nil {
			items = wrapped.Medicines
		}
	}

	out := make([]domain.Medicine, 0, len(items))
	for _, item := range items {
		out = append(out, item.toDomain())
	}
	return out, nil
}

// flexNumber decodes a JSON number or numeric string; anything else is zero.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(v)
	return nil
}
