// Package soap forwards provisioning operations to the VoipNow SOAP
// agents. It builds the request envelope, authenticates with the
// current access token, and unwraps the response body or fault.
package soap

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/alexjbarnes/voipnow-mcp/internal/manager"
)

const (
	callTimeout    = 30 * time.Second
	connectTimeout = 5 * time.Second

	// maxAttempts bounds retries on transient HTTP failures.
	maxAttempts = 3

	soapEnvNS = "http://schemas.xmlsoap.org/soap/envelope/"
)

// retryableStatus lists HTTP statuses worth retrying.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Request identifies one SOAP operation and its parameters.
type Request struct {
	Service string // agent name: pbx, billing, report, channel
	Method  string
	Params  map[string]any
}

// Fault is a SOAP fault returned by the server.
type Fault struct {
	Code   string `xml:"faultcode"`
	Reason string `xml:"faultstring"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("SOAP fault %s: %s", f.Code, f.Reason)
}

// Client invokes VoipNow SOAP agents. It is safe for concurrent use;
// the runtime configuration is passed per call so every invocation
// sees a consistent snapshot.
type Client struct {
	logger   *slog.Logger
	cache    *Cache
	verify   *http.Client
	noVerify *http.Client
}

// New creates a SOAP client. cache may be nil, in which case WSDL
// lookups are skipped and the default namespace is used.
func New(logger *slog.Logger, cache *Cache) *Client {
	return &Client{
		logger:   logger,
		cache:    cache,
		verify:   newHTTPClient(false),
		noVerify: newHTTPClient(true),
	}
}

func newHTTPClient(insecure bool) *http.Client {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConnsPerHost: 10,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{Timeout: callTimeout, Transport: transport}
}

// Call invokes the operation and returns the inner XML of the SOAP
// response body. A *Fault error means the server processed the request
// and rejected it.
func (c *Client) Call(ctx context.Context, rc manager.RuntimeConfig, req Request) (string, error) {
	endpoint := agentURL(rc.ServiceURL, req.Service)
	ns := c.namespace(ctx, rc, req.Service)
	envelope := buildEnvelope(ns, req.Method, req.Params)

	httpClient := c.verify
	if rc.Insecure {
		httpClient = c.noVerify
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
		if err != nil {
			return "", fmt.Errorf("building SOAP request: %w", err)
		}

		httpReq.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
		httpReq.Header.Set("SOAPAction", ns+"/"+req.Method)
		httpReq.Header.Set("Authorization", "Bearer "+rc.Secret)

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("calling %s: %w", req.Method, err)
			c.logger.Warn("SOAP request failed, retrying",
				slog.String("method", req.Method),
				slog.Int("attempt", attempt+1),
			)

			continue
		}

		body, err := decodeBody(resp)
		resp.Body.Close()

		if err != nil {
			return "", err
		}

		// SOAP faults arrive with status 500 but are not transient.
		result, fault := parseEnvelope(body)
		if fault != nil {
			return "", fault
		}

		if retryableStatus[resp.StatusCode] {
			lastErr = fmt.Errorf("calling %s: HTTP %d", req.Method, resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("calling %s: HTTP %d", req.Method, resp.StatusCode)
		}

		return result, nil
	}

	return "", lastErr
}

// agentURL builds the endpoint for a service agent.
func agentURL(host, service string) string {
	return strings.TrimSuffix(host, "/") + "/soap2/" + service + "_agent.php"
}

// namespace resolves the message namespace for a service, consulting
// the WSDL cache and falling back to the conventional namespace when
// the WSDL cannot be fetched.
func (c *Client) namespace(ctx context.Context, rc manager.RuntimeConfig, service string) string {
	fallback := defaultNamespace(service)

	if c.cache == nil {
		return fallback
	}

	key := rc.ServiceURL + "/" + service
	if ns, ok := c.cache.Get(key); ok {
		return ns
	}

	ns, err := c.fetchNamespace(ctx, rc, service)
	if err != nil {
		c.logger.Debug("WSDL fetch failed, using default namespace",
			slog.String("service", service),
			slog.String("error", err.Error()),
		)

		return fallback
	}

	if err := c.cache.Put(key, ns); err != nil {
		c.logger.Warn("caching WSDL namespace", slog.String("error", err.Error()))
	}

	return ns
}

// fetchNamespace downloads the service WSDL and extracts its
// targetNamespace.
func (c *Client) fetchNamespace(ctx context.Context, rc manager.RuntimeConfig, service string) (string, error) {
	httpClient := c.verify
	if rc.Insecure {
		httpClient = c.noVerify
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, agentURL(rc.ServiceURL, service)+"?wsdl", nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return "", err
	}

	var definitions struct {
		TargetNamespace string `xml:"targetNamespace,attr"`
	}

	if err := xml.Unmarshal(body, &definitions); err != nil {
		return "", fmt.Errorf("parsing WSDL: %w", err)
	}

	if definitions.TargetNamespace == "" {
		return "", fmt.Errorf("WSDL has no targetNamespace")
	}

	return definitions.TargetNamespace, nil
}

// defaultNamespace is the conventional message namespace for a service
// when no WSDL is available.
func defaultNamespace(service string) string {
	name := strings.ToUpper(service[:1]) + service[1:]
	if service == "pbx" {
		name = "PBX"
	}

	return "http://4psa.com/" + name + "Messages.xsd/3.0.0"
}

// buildEnvelope serializes the operation into a SOAP 1.1 envelope.
// Parameters are emitted in sorted key order so envelopes are
// deterministic.
func buildEnvelope(ns, method string, params map[string]any) []byte {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)
	buf.WriteString(`<env:Envelope xmlns:env="` + soapEnvNS + `" xmlns:ns="` + ns + `">`)
	buf.WriteString(`<env:Body><ns:` + method + `>`)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		buf.WriteString(`<ns:` + k + `>`)
		_ = xml.EscapeText(&buf, []byte(formatValue(params[k])))
		buf.WriteString(`</ns:` + k + `>`)
	}

	buf.WriteString(`</ns:` + method + `></env:Body></env:Envelope>`)

	return buf.Bytes()
}

// formatValue renders a JSON-decoded argument as SOAP element text.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}

		return "0"
	case float64:
		// JSON numbers decode as float64; integers must not gain a
		// fractional part on the wire.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}

		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// decodeBody reads the response body, converting to UTF-8 when the
// server answers in another charset.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		if charset, ok := params["charset"]; ok && !strings.EqualFold(charset, "utf-8") {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, fmt.Errorf("unsupported response charset %q: %w", charset, err)
			}

			reader = enc.NewDecoder().Reader(reader)
		}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading SOAP response: %w", err)
	}

	return body, nil
}

// parseEnvelope extracts the response payload or the fault from a SOAP
// envelope. Non-XML bodies are returned as-is.
func parseEnvelope(body []byte) (string, *Fault) {
	var envelope struct {
		Body struct {
			Inner []byte `xml:",innerxml"`
			Fault *Fault `xml:"Fault"`
		} `xml:"Body"`
	}

	if err := xml.Unmarshal(body, &envelope); err != nil {
		return string(body), nil
	}

	if envelope.Body.Fault != nil {
		return "", envelope.Body.Fault
	}

	return strings.TrimSpace(string(envelope.Body.Inner)), nil
}
