package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/go-resty/resty/v2"
)

// ErrNoData is returned when the channel has no usable latest entry
var ErrNoData = errors.New("no sensor data available")

// Channel identifies a ThingSpeak channel and the key to read it
type Channel struct {
	Name      string `json:"name"`
	ChannelID string `json:"channel_id"`
	ReadKey   string `json:"read_key"`
}

// feed is the body of /channels/{id}/feeds/last.json. Field values are
// strings on the wire but may also arrive as numbers or null.
type feed struct {
	CreatedAt string          `json:"created_at"`
	EntryID   int64           `json:"entry_id"`
	Field1    json.RawMessage `json:"field1"` // temperature
	Field2    json.RawMessage `json:"field2"` // humidity
	Field3    json.RawMessage `json:"field3"` // flame
	Field4    json.RawMessage `json:"field4"` // gas
	Field5    json.RawMessage `json:"field5"` // pir
}

// Client reads the latest entry of a channel
type Client struct {
	httpClient *resty.Client
	now        func() time.Time
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Latest fetches and decodes the newest entry of the channel. Any upstream
// problem is reported as an error wrapping ErrNoData.
func (c *Client) Latest(ctx context.Context, ch Channel) (*models.SensorReading, error) {
	if ch.ChannelID == "" {
		return nil, fmt.Errorf("%w: channel id is empty", ErrNoData)
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("channel", ch.ChannelID)
	if ch.ReadKey != "" {
		req.SetQueryParam("api_key", ch.ReadKey)
	}

	resp, err := req.Get("/channels/{channel}/feeds/last.json")
	if err != nil {
		logger.Warn().Err(err).Str("channel_id", ch.ChannelID).Msg("ThingSpeak request failed")
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	if resp.StatusCode() != http.StatusOK {
		logger.Warn().
			Int("status_code", resp.StatusCode()).
			Str("channel_id", ch.ChannelID).
			Msg("ThingSpeak returned an error status")
		return nil, fmt.Errorf("%w: status %d", ErrNoData, resp.StatusCode())
	}

	reading, err := c.decode(resp.Body())
	if err != nil {
		logger.Warn().Err(err).Str("channel_id", ch.ChannelID).Msg("Failed to decode ThingSpeak entry")
		return nil, err
	}
	return reading, nil
}

func (c *Client) decode(body []byte) (*models.SensorReading, error) {
	body = bytes.TrimSpace(body)
	// an empty channel answers with the literal -1
	if len(body) == 0 || bytes.Equal(body, []byte("-1")) || bytes.Equal(body, []byte("null")) {
		return nil, ErrNoData
	}

	var f feed
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}

	fields := []json.RawMessage{f.Field1, f.Field2, f.Field3, f.Field4, f.Field5}
	empty := true
	for _, raw := range fields {
		if fieldString(raw) != "" {
			empty = false
			break
		}
	}
	if empty {
		return nil, ErrNoData
	}

	reading := &models.SensorReading{
		Temperature: parseFloat(f.Field1),
		Humidity:    parseFloat(f.Field2),
		Flame:       parseDetected(f.Field3),
		Gas:         parseFloat(f.Field4),
		Motion:      parseDetected(f.Field5),
		CapturedAt:  c.now(),
	}
	if f.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, f.CreatedAt); err == nil {
			reading.CapturedAt = ts.UTC()
		}
	}
	return reading, nil
}

func fieldString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	v := strings.TrimSpace(string(raw))
	if v == "null" {
		return ""
	}
	return v
}

func parseFloat(raw json.RawMessage) float64 {
	v, err := strconv.ParseFloat(fieldString(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseDetected treats positive numbers and true/detected/yes as detected
func parseDetected(raw json.RawMessage) bool {
	v := strings.ToLower(fieldString(raw))
	switch v {
	case "true", "detected", "yes", "on":
		return true
	case "", "false", "no", "off":
		return false
	}
	n, err := strconv.ParseFloat(v, 64)
	return err == nil && n > 0
}
