package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

const maxBodyBytes = 1 << 20

// HTTPConfig describes a JSON endpoint exposing a meter reading or an
// emission factor.
type HTTPConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	ValueField     string        `yaml:"value_field"`
	TimestampField string        `yaml:"timestamp_field"`
	Unit           string        `yaml:"unit"`
	Scale          float64       `yaml:"scale"`
	Timeout        time.Duration `yaml:"timeout"`
}

func (c *HTTPConfig) ApplyDefaults() {
	if c.ValueField == "" {
		c.ValueField = "value"
	}
	if c.Scale == 0 {
		c.Scale = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *HTTPConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.Unit != "" {
		if _, err := domain.ParseEnergyUnit(c.Unit); err != nil {
			return err
		}
	}
	return nil
}

// HTTPJSON polls a JSON document and extracts one numeric field from it.
// Field paths are dot separated; numeric segments index into arrays
// ("results.0.marginal_carbon.value").
type HTTPJSON struct {
	name   string
	cfg    HTTPConfig
	unit   domain.EnergyUnit
	client *http.Client
}

func NewHTTPJSON(name string, cfg HTTPConfig) (*HTTPJSON, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var unit domain.EnergyUnit
	if cfg.Unit != "" {
		unit, _ = domain.ParseEnergyUnit(cfg.Unit)
	}
	if name == "" {
		name = "http"
	}
	return &HTTPJSON{
		name:   name,
		cfg:    cfg,
		unit:   unit,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (h *HTTPJSON) Name() string { return h.name }

func (h *HTTPJSON) ReadLatest(ctx context.Context) (domain.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return domain.Reading{}, err
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.Username != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	}
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("%s: %w", h.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Reading{}, fmt.Errorf("%s: unexpected status %s", h.name, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Reading{}, fmt.Errorf("%s: read body: %w", h.name, err)
	}
	captured := time.Now()

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.Reading{}, fmt.Errorf("%s: decode: %w", h.name, err)
	}

	raw, err := lookup(doc, h.cfg.ValueField)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("%s: %w", h.name, err)
	}
	v, err := toFloat(raw)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("%s: field %s: %w", h.name, h.cfg.ValueField, err)
	}
	if h.unit != "" {
		if v, err = h.unit.ToWh(v); err != nil {
			return domain.Reading{}, err
		}
	}

	reading := domain.Reading{
		CapturedAt: captured,
		Value:      v * h.cfg.Scale,
		Raw:        string(body),
	}
	if h.cfg.TimestampField != "" {
		if ts, err := lookup(doc, h.cfg.TimestampField); err == nil {
			reading.SourceTimestamp, _ = toTime(ts)
		}
	}
	return reading, nil
}

func lookup(doc any, path string) (any, error) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("field %q not found", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %q", seg, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("field %q not found", path)
		}
	}
	return cur, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		sec, err := t.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, 0), nil
	case string:
		return time.Parse(time.RFC3339, t)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

var _ ports.Source = (*HTTPJSON)(nil)
