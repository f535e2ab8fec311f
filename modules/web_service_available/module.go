// Package web_service_available provides a step that checks whether the URL
// held in a field answers an HTTP request.
package web_service_available

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// ErrorCode tags rows whose URL cannot be checked at all.
const ErrorCode = "WebServiceAvailable001"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Step appends a boolean result field. Options:
//
//	url_field     field holding the URL (required)
//	result_field  name of the appended field, default "available"
//	method        HTTP method, default GET
//	timeout       request timeout, default 10s
//	read_body     also read the response body to the end
type Step struct {
	urlField    string
	resultField string
	method      string
	timeout     time.Duration
	readBody    bool

	client *http.Client
	in     int
	size   int
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	var err error
	if s.urlField, err = opts.Required("url_field"); err != nil {
		return err
	}
	s.resultField = opts.String("result_field", "available")
	s.method = strings.ToUpper(opts.String("method", http.MethodGet))
	s.timeout = opts.Duration("timeout", 10*time.Second)
	s.readBody = opts.Bool("read_body", false)
	s.client = newClient(s.timeout)
	sc.Logger().Debug("Web service check ready.", "url_field", s.urlField, "timeout", s.timeout)
	return nil
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	if s.in = in.IndexOf(s.urlField); s.in < 0 {
		return nil, fmt.Errorf("url field %q not found in %s", s.urlField, in)
	}
	if in.IndexOf(s.resultField) >= 0 {
		return nil, fmt.Errorf("result field %q already exists", s.resultField)
	}
	s.size = in.Size()
	return in.Extend(row.ValueMeta{Name: s.resultField, Type: row.TypeBoolean}), nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	raw := sc.InputMeta().Field(s.in).Render(r[s.in])
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		if err == nil {
			err = fmt.Errorf("invalid URL %q", raw)
		}
		return true, step.NewRowError(ErrorCode, s.urlField, err)
	}

	available := s.check(ctx, sc, target.String())
	out := append(r.Resize(s.size), available)
	return true, sc.PutRow(ctx, nil, out)
}

// check reports whether target answered with a status below 400.
func (s *Step) check(ctx context.Context, sc *step.Context, target string) bool {
	logger := sc.Logger().With("url", target)
	req, err := http.NewRequestWithContext(ctx, s.method, target, nil)
	if err != nil {
		logger.Debug("Cannot build request.", "error", err)
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		logger.Debug("Web service is not available.", "error", err)
		return false
	}
	defer resp.Body.Close()
	if s.readBody {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			logger.Debug("Reading response body failed.", "error", err)
			return false
		}
	}
	logger.Debug("Received HTTP response.", "status", resp.Status)
	return resp.StatusCode < http.StatusBadRequest
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error {
	closeClient(s.client)
	return nil
}

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("web_service_available", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Checks whether a web service URL is reachable.",
	})
}
