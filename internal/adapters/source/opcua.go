package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// OPCUAConfig captures the session details and the node holding the meter's
// energy register.
type OPCUAConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	NodeID          string        `yaml:"node_id"`
	Unit            string        `yaml:"unit"`
	Timeout         time.Duration `yaml:"timeout"`
}

func (c *OPCUAConfig) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "ew-link-bond"
	}
	if c.Unit == "" {
		c.Unit = string(domain.WattHour)
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *OPCUAConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.NodeID == "" {
		return errors.New("node_id is required")
	}
	if _, err := ua.ParseNodeID(c.NodeID); err != nil {
		return fmt.Errorf("node_id %q: %w", c.NodeID, err)
	}
	if _, err := domain.ParseEnergyUnit(c.Unit); err != nil {
		return err
	}
	return nil
}

// OPCUA reads one energy register per poll. The session is opened on the
// first read and dropped after a failed one, so the next poll reconnects.
type OPCUA struct {
	name   string
	cfg    OPCUAConfig
	nodeID *ua.NodeID
	unit   domain.EnergyUnit

	mu     sync.Mutex
	client *opcua.Client
}

func NewOPCUA(name string, cfg OPCUAConfig) (*OPCUA, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nodeID, _ := ua.ParseNodeID(cfg.NodeID)
	unit, _ := domain.ParseEnergyUnit(cfg.Unit)
	if name == "" {
		name = "opcua"
	}
	return &OPCUA{name: name, cfg: cfg, nodeID: nodeID, unit: unit}, nil
}

func (o *OPCUA) Name() string { return o.name }

func (o *OPCUA) ReadLatest(ctx context.Context) (domain.Reading, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	client, err := o.connectLocked(ctx)
	if err != nil {
		return domain.Reading{}, err
	}

	captured := time.Now()
	resp, err := client.Read(ctx, &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: o.nodeID, AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil {
		o.dropLocked()
		return domain.Reading{}, fmt.Errorf("opcua read %s: %w", o.cfg.NodeID, err)
	}
	if len(resp.Results) == 0 {
		return domain.Reading{}, fmt.Errorf("opcua read %s: empty result", o.cfg.NodeID)
	}
	dv := resp.Results[0]
	if dv.Status != ua.StatusOK {
		return domain.Reading{}, fmt.Errorf("opcua read %s: %s", o.cfg.NodeID, dv.Status)
	}
	fv, ok := variantToFloat(dv.Value)
	if !ok {
		return domain.Reading{}, fmt.Errorf("opcua read %s: value is not numeric", o.cfg.NodeID)
	}
	wh, err := o.unit.ToWh(fv)
	if err != nil {
		return domain.Reading{}, err
	}

	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = dv.ServerTimestamp
	}
	return domain.Reading{
		CapturedAt:      captured,
		SourceTimestamp: ts,
		Value:           wh,
		Raw:             fmt.Sprintf("%s=%v", o.cfg.NodeID, dv.Value.Value()),
	}, nil
}

// Close ends the session, if one is open.
func (o *OPCUA) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return nil
	}
	err := o.client.Close(ctx)
	o.client = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *OPCUA) connectLocked(ctx context.Context) (*opcua.Client, error) {
	if o.client != nil {
		return o.client, nil
	}
	client, err := opcua.NewClient(o.cfg.Endpoint, o.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}
	o.client = client
	return client, nil
}

func (o *OPCUA) dropLocked() {
	if o.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = o.client.Close(ctx)
	o.client = nil
}

func (o *OPCUA) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(o.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(o.cfg.SecurityPolicy)),
		opcua.ApplicationName(o.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if o.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(o.cfg.Username, o.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Source = (*OPCUA)(nil)
