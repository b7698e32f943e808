package gis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultWhere     = "1=1"
	defaultOutFields = "*"
)

// ClientConfig describes one ArcGIS REST feature layer to query.
// ServiceURL is the layer endpoint without the trailing /query.
type ClientConfig struct {
	ServiceURL     string
	Where          string
	OutFields      string
	ReturnGeometry bool
	Timeout        time.Duration
}

// Client queries an ArcGIS REST feature layer with offset pagination
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
}

// NewClient creates a feature layer client, filling in config defaults
func NewClient(cfg ClientConfig) *Client {
	if cfg.Where == "" {
		cfg.Where = defaultWhere
	}
	if cfg.OutFields == "" {
		cfg.OutFields = defaultOutFields
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Feature is one record from a feature layer: a bag of attributes keyed
// by source field name, plus an optional GeoJSON geometry.
type Feature struct {
	Attrs    map[string]interface{}
	Geometry *Geometry
}

// apiError is the error payload ArcGIS returns inside a 200 response
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

// queryFeature parses a single feature. GeoJSON responses carry
// "properties", Esri JSON responses carry "attributes".
type queryFeature struct {
	Properties map[string]interface{} `json:"properties"`
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   *Geometry              `json:"geometry"`
}

type queryResponse struct {
	Features []queryFeature `json:"features"`
	Error    *apiError      `json:"error"`
}

type countResponse struct {
	Count *int      `json:"count"`
	Error *apiError `json:"error"`
}

// Count returns the total number of records matching the layer's where
// clause. A failure here means the source is unavailable.
func (c *Client) Count(ctx context.Context) (int, error) {
	params := url.Values{}
	params.Set("where", c.cfg.Where)
	params.Set("returnCountOnly", "true")
	params.Set("f", "json")

	body, err := c.get(ctx, c.queryURL(params))
	if err != nil {
		return 0, err
	}

	var cr countResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	if cr.Error != nil {
		return 0, cr.Error
	}
	if cr.Count == nil {
		return 0, fmt.Errorf("count missing from response")
	}
	return *cr.Count, nil
}

// FetchPage fetches up to limit features starting at offset, in WGS84.
// The server may return fewer records than requested; an empty page
// means the feed is exhausted.
func (c *Client) FetchPage(ctx context.Context, offset, limit int) ([]Feature, error) {
	params := url.Values{}
	params.Set("where", c.cfg.Where)
	params.Set("outFields", c.cfg.OutFields)
	params.Set("resultOffset", fmt.Sprintf("%d", offset))
	params.Set("resultRecordCount", fmt.Sprintf("%d", limit))
	params.Set("outSR", "4326")
	params.Set("f", "geojson")
	if !c.cfg.ReturnGeometry {
		params.Set("returnGeometry", "false")
	}

	body, err := c.get(ctx, c.queryURL(params))
	if err != nil {
		return nil, err
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decoding page response: %w", err)
	}
	if qr.Error != nil {
		return nil, qr.Error
	}

	features := make([]Feature, 0, len(qr.Features))
	for _, f := range qr.Features {
		attrs := f.Properties
		if attrs == nil {
			attrs = f.Attributes
		}
		features = append(features, Feature{
			Attrs:    attrs,
			Geometry: f.Geometry,
		})
	}
	return features, nil
}

// LayerField describes one attribute field of a feature layer
type LayerField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

// LayerInfo is the layer metadata returned by the service root
type LayerInfo struct {
	Name           string       `json:"name"`
	GeometryType   string       `json:"geometryType"`
	MaxRecordCount int          `json:"maxRecordCount"`
	Fields         []LayerField `json:"fields"`
	Error          *apiError    `json:"error"`
}

// LayerInfo fetches layer metadata, used to check which source fields a
// layer actually serves before trusting a field mapping.
func (c *Client) LayerInfo(ctx context.Context) (*LayerInfo, error) {
	params := url.Values{}
	params.Set("f", "json")

	reqURL := fmt.Sprintf("%s?%s", strings.TrimSuffix(c.cfg.ServiceURL, "/"), params.Encode())
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var info LayerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding layer info: %w", err)
	}
	if info.Error != nil {
		return nil, info.Error
	}
	return &info, nil
}

func (c *Client) queryURL(params url.Values) string {
	return fmt.Sprintf("%s/query?%s", strings.TrimSuffix(c.cfg.ServiceURL, "/"), params.Encode())
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching from service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
