// Package discovery probes HTTP services for OpenAPI descriptions and turns
// them into registry service records.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpbridge-go/internal/registry"
)

// specProbePaths are the well-known locations tried, in order, when a base
// URL is handed to the discoverer without an explicit spec path.
var specProbePaths = []string{
	"/openapi.json",
	"/openapi.yaml",
	"/swagger.json",
	"/docs",
	"/api/docs",
}

var httpMethods = []string{"get", "post", "put", "delete", "patch", "head", "options"}

// Discoverer fetches and parses OpenAPI documents.
type Discoverer struct {
	client *http.Client
	logger *zap.Logger
}

// NewDiscoverer creates a discoverer with the given per-probe timeout.
func NewDiscoverer(timeout time.Duration, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("discovery"),
	}
}

// Discover probes the base URL for an OpenAPI document and builds a service
// record from the first one found. It returns a DiscoveryError when none of
// the well-known locations yields a parseable document.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) (*registry.ServiceRecord, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	for _, probe := range specProbePaths {
		specURL := baseURL + probe
		doc, ok := d.fetchSpec(ctx, specURL)
		if !ok {
			continue
		}
		d.logger.Info("Discovered OpenAPI document",
			zap.String("base_url", baseURL),
			zap.String("spec_url", specURL))
		return buildRecord(baseURL, specURL, doc), nil
	}

	return nil, &registry.DiscoveryError{BaseURL: baseURL}
}

// DiscoverSpec fetches an OpenAPI document from an explicit spec URL.
func (d *Discoverer) DiscoverSpec(ctx context.Context, specURL string) (*registry.ServiceRecord, error) {
	parsed, err := url.ParseRequestURI(specURL)
	if err != nil {
		return nil, fmt.Errorf("invalid spec URL %q: %w", specURL, err)
	}

	doc, ok := d.fetchSpec(ctx, specURL)
	if !ok {
		return nil, &registry.DiscoveryError{BaseURL: specURL}
	}

	baseURL := parsed.Scheme + "://" + parsed.Host
	return buildRecord(baseURL, specURL, doc), nil
}

// fetchSpec fetches one candidate URL and returns the parsed document when
// the body is a JSON object that looks like an OpenAPI description.
func (d *Discoverer) fetchSpec(ctx context.Context, specURL string) (map[string]interface{}, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("Spec probe failed", zap.String("url", specURL), zap.Error(err))
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, false
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		// HTML docs pages and YAML specs land here; only JSON documents
		// are translated.
		return nil, false
	}

	if _, ok := doc["openapi"]; !ok {
		if _, ok := doc["swagger"]; !ok {
			return nil, false
		}
	}
	return doc, true
}

// buildRecord converts a parsed OpenAPI document into a service record.
func buildRecord(baseURL, specURL string, doc map[string]interface{}) *registry.ServiceRecord {
	rec := &registry.ServiceRecord{
		ID:      registry.NewServiceID(),
		BaseURL: baseURL,
		SpecURL: specURL,
		Status:  registry.ServiceStatusUnknown,
	}

	if info, ok := doc["info"].(map[string]interface{}); ok {
		if title, ok := info["title"].(string); ok {
			rec.Name = title
		}
		if desc, ok := info["description"].(string); ok {
			rec.Description = desc
		}
	}
	if rec.Name == "" {
		rec.Name = baseURL
	}

	rec.Capabilities = extractCapabilities(doc)
	return rec
}

// extractCapabilities flattens the paths object into one descriptor per
// operation.
func extractCapabilities(doc map[string]interface{}) []registry.CapabilityDescriptor {
	paths, ok := doc["paths"].(map[string]interface{})
	if !ok {
		return nil
	}

	var caps []registry.CapabilityDescriptor
	for pathTemplate, rawItem := range paths {
		item, ok := rawItem.(map[string]interface{})
		if !ok {
			continue
		}
		for _, method := range httpMethods {
			rawOp, ok := item[method]
			if !ok {
				continue
			}
			op, ok := rawOp.(map[string]interface{})
			if !ok {
				continue
			}
			caps = append(caps, buildCapability(method, pathTemplate, op))
		}
	}
	return caps
}

func buildCapability(method, pathTemplate string, op map[string]interface{}) registry.CapabilityDescriptor {
	c := registry.CapabilityDescriptor{
		Method:       strings.ToUpper(method),
		PathTemplate: pathTemplate,
	}

	if id, ok := op["operationId"].(string); ok && id != "" {
		c.OperationID = id
	} else {
		c.OperationID = synthesizeOperationID(method, pathTemplate)
	}
	if summary, ok := op["summary"].(string); ok {
		c.Summary = summary
	}
	if desc, ok := op["description"].(string); ok {
		c.Description = desc
	}

	if params, ok := op["parameters"].([]interface{}); ok {
		for _, rawParam := range params {
			param, ok := rawParam.(map[string]interface{})
			if !ok {
				continue
			}
			spec := registry.ParameterSpec{}
			if name, ok := param["name"].(string); ok {
				spec.Name = name
			}
			if in, ok := param["in"].(string); ok {
				spec.In = in
			}
			if required, ok := param["required"].(bool); ok {
				spec.Required = required
			}
			if spec.Name != "" {
				c.Parameters = append(c.Parameters, spec)
			}
		}
	}
	return c
}

// synthesizeOperationID derives a stable operation id for operations the
// document leaves unnamed, e.g. "get_users__id_" for GET /users/{id}.
func synthesizeOperationID(method, pathTemplate string) string {
	sanitized := strings.NewReplacer("/", "_", "{", "_", "}", "_").Replace(strings.Trim(pathTemplate, "/"))
	if sanitized == "" {
		sanitized = "root"
	}
	return method + "_" + sanitized
}
