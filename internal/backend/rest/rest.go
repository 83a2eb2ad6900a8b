// Package rest implements a Connection/DataObject pair backed by an HTTP
// API, demonstrating the capability interfaces (internal/dataobject) over a
// real transport and giving the Prepare phase's "one test call per
// connection" something concrete to exercise.
package rest

import (
	"context"
	"fmt"

	"resty.dev/v3"

	"github.com/sdlb/smartdatalake/internal/config"
	"github.com/sdlb/smartdatalake/internal/dataobject"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/subfeed"
)

// Connection wraps a resty client pointed at one base URL.
type Connection struct {
	name   string
	client *resty.Client
}

// NewConnection builds a Connection against baseURL.
func NewConnection(name, baseURL string) *Connection {
	return &Connection{name: name, client: resty.New().SetBaseURL(baseURL)}
}

func (c *Connection) ID() string { return c.name }

// Test issues a HEAD request to the connection's base URL, the single
// reachability check the Prepare phase performs per connection.
func (c *Connection) Test(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Head("/")
	if err != nil {
		return fmt.Errorf("testing REST connection %q: %w", c.name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("REST connection %q: unexpected status %s", c.name, resp.Status())
	}
	return nil
}

// DataObject reads and writes JSON documents at a fixed path relative to
// its Connection's base URL, partitioned by query parameters built from
// the requested partition values.
type DataObject struct {
	id         string
	conn       *Connection
	path       string
	partitionColumns []string
}

// Builder constructs rest.Connection/rest.DataObject values from config
// blocks, implementing registry.Builder for HCL blocks of type "rest".
type Builder struct{}

func (Builder) BuildConnection(block *config.ConnectionBlock) (dataobject.Connection, error) {
	if block.URL == "" {
		return nil, fmt.Errorf("rest connection %q: missing url", block.Name)
	}
	return NewConnection(block.Name, block.URL), nil
}

func (Builder) BuildDataObject(block *config.DataObjectBlock, conn dataobject.Connection) (dataobject.DataObject, error) {
	restConn, ok := conn.(*Connection)
	if !ok {
		return nil, fmt.Errorf("rest data_object %q: connection %q is not a rest connection", block.Name, block.Connection)
	}
	return &DataObject{id: block.Name, conn: restConn, path: block.Path, partitionColumns: block.PartitionColumns}, nil
}

func (d *DataObject) ID() string                { return d.id }
func (d *DataObject) PartitionColumns() []string { return d.partitionColumns }

// Read fetches the payload at d.path, filtered by pv's values as query
// parameters, returning the raw JSON body as the SubFeed payload.
func (d *DataObject) Read(ctx context.Context, pv partition.Set, filter string) (subfeed.Payload, error) {
	req := d.conn.client.R().SetContext(ctx)
	for _, v := range pv {
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			req = req.SetQueryParam(k, val)
		}
	}
	resp, err := req.Get(d.path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", d.id, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("reading %q: unexpected status %s", d.id, resp.Status())
	}
	return resp.Bytes(), nil
}

// Write POSTs payload (expected to be []byte JSON, the shape Read returns)
// to d.path.
func (d *DataObject) Write(ctx context.Context, payload subfeed.Payload, pv partition.Set) error {
	body, ok := payload.([]byte)
	if !ok {
		return fmt.Errorf("writing %q: payload is %T, want []byte", d.id, payload)
	}
	resp, err := d.conn.client.R().SetContext(ctx).SetBody(body).Post(d.path)
	if err != nil {
		return fmt.Errorf("writing %q: %w", d.id, err)
	}
	if resp.IsError() {
		return fmt.Errorf("writing %q: unexpected status %s", d.id, resp.Status())
	}
	return nil
}
