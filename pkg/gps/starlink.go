package gps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// StarlinkHandleMethod is the dish's catch-all request method
const StarlinkHandleMethod = "SpaceX.API.Device.Device/Handle"

// Caller invokes a gRPC method with a JSON request and returns the JSON response
type Caller interface {
	Call(ctx context.Context, method, request string) ([]byte, error)
}

// ReflectionCaller calls the dish through server reflection, so no compiled
// SpaceX protos are needed
type ReflectionCaller struct {
	target  string
	timeout time.Duration

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewReflectionCaller creates a caller for target (host:port)
func NewReflectionCaller(target string, timeout time.Duration) *ReflectionCaller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReflectionCaller{target: target, timeout: timeout}
}

func (c *ReflectionCaller) dial(ctx context.Context) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := grpc.DialContext(ctx, c.target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.target, err)
	}
	c.conn = conn
	return conn, nil
}

// Call resolves method through reflection and invokes it with the JSON request
func (c *ReflectionCaller) Call(ctx context.Context, method, request string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	refClient := grpcreflect.NewClientAuto(ctx, conn)
	defer refClient.Reset()
	source := grpcurl.DescriptorSourceFromServer(ctx, refClient)

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, source, strings.NewReader(request), grpcurl.FormatOptions{})
	if err != nil {
		return nil, fmt.Errorf("build request parser: %w", err)
	}

	var out bytes.Buffer
	handler := &grpcurl.DefaultEventHandler{Out: &out, Formatter: formatter}
	if err := grpcurl.InvokeRPC(ctx, source, conn, method, nil, handler, parser.Next); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	if handler.Status != nil && handler.Status.Code() != codes.OK {
		return nil, fmt.Errorf("invoke %s: %w", method, handler.Status.Err())
	}
	return out.Bytes(), nil
}

// Close closes the gRPC connection
func (c *ReflectionCaller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// StarlinkSource reads the dish location (get_location). The dish only
// answers when location access is enabled in the Starlink app.
type StarlinkSource struct {
	target   string
	caller   Caller
	priority int
	logger   *logx.Logger
	now      func() time.Time
}

// NewStarlinkSource creates a Starlink source for the dish at target
func NewStarlinkSource(target string, caller Caller, priority int, logger *logx.Logger) *StarlinkSource {
	return &StarlinkSource{target: target, caller: caller, priority: priority, logger: logger, now: time.Now}
}

func (s *StarlinkSource) Name() string  { return pkg.SourceStarlink }
func (s *StarlinkSource) Priority() int { return s.priority }

// Available checks that the dish API port accepts connections
func (s *StarlinkSource) Available(ctx context.Context) bool {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", s.target)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Collect returns the dish position with sigmaM as accuracy
func (s *StarlinkSource) Collect(ctx context.Context) (*pkg.Geopoint, error) {
	out, err := s.caller.Call(ctx, StarlinkHandleMethod, `{"get_location":{}}`)
	if err != nil {
		return nil, fmt.Errorf("starlink get_location: %w", err)
	}
	return parseStarlinkLocation(out, s.now())
}

// Close releases the underlying caller when it holds a connection
func (s *StarlinkSource) Close() error {
	if c, ok := s.caller.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

type starlinkLocationResponse struct {
	GetLocation *struct {
		LLA *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
			Alt float64 `json:"alt"`
		} `json:"lla"`
		SigmaM *float64 `json:"sigmaM"`
		Source string   `json:"source"`
	} `json:"getLocation"`
}

func parseStarlinkLocation(data []byte, now time.Time) (*pkg.Geopoint, error) {
	var resp starlinkLocationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse get_location response: %w", err)
	}
	loc := resp.GetLocation
	if loc == nil || loc.LLA == nil || (loc.LLA.Lat == 0 && loc.LLA.Lon == 0) {
		return nil, ErrNoFix
	}
	return &pkg.Geopoint{
		Latitude:  loc.LLA.Lat,
		Longitude: loc.LLA.Lon,
		Accuracy:  loc.SigmaM,
		Timestamp: now,
		Source:    pkg.SourceStarlink,
	}, nil
}
