package connection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/tranche/iox"
	"github.com/pithecene-io/tranche/types"
)

// DefaultAPIVersion is the Bulk API version used when none is configured.
const DefaultAPIVersion = "29.0"

// DefaultTimeout is the default per-request HTTP timeout.
const DefaultTimeout = 180 * time.Second

// remoteTimestampLayout is how the REST API renders datetime fields.
const remoteTimestampLayout = "2006-01-02T15:04:05.000-0700"

// BulkConfig configures a Bulk API connection.
type BulkConfig struct {
	// InstanceURL is the org base URL, e.g. https://na1.salesforce.com (required).
	InstanceURL string
	// APIVersion is the API version without the "v" prefix (default 29.0).
	APIVersion string
	// TokenSource supplies the session access token (required).
	TokenSource oauth2.TokenSource
	// RequestsPerSecond caps the request rate. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter burst size (default 1 when limiting is on).
	Burst int
	// Timeout is the per-request timeout (default 180s).
	Timeout time.Duration
	// HTTPClient overrides the HTTP client (for testing).
	HTTPClient *http.Client
}

// Bulk is a Connection backed by the Salesforce Bulk API.
type Bulk struct {
	config   BulkConfig
	client   *http.Client
	limiter  *rate.Limiter
	asyncURL string
	dataURL  string
}

// NewBulk creates a Bulk API connection.
func NewBulk(cfg BulkConfig) (*Bulk, error) {
	if cfg.InstanceURL == "" {
		return nil, errors.New("bulk connection requires an instance URL")
	}
	if cfg.TokenSource == nil {
		return nil, errors.New("bulk connection requires a token source")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	base := strings.TrimRight(cfg.InstanceURL, "/")
	return &Bulk{
		config:   cfg,
		client:   client,
		limiter:  limiter,
		asyncURL: fmt.Sprintf("%s/services/async/%s", base, cfg.APIVersion),
		dataURL:  fmt.Sprintf("%s/services/data/v%s", base, cfg.APIVersion),
	}, nil
}

// NewStaticTokenSource wraps a fixed access token.
func NewStaticTokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

// SubmitJob implements Connection.
func (b *Bulk) SubmitJob(ctx context.Context, sobject string) (string, error) {
	const op = "submit_job"
	req := jobInfo{
		Xmlns:       bulkNamespace,
		Operation:   "query",
		Object:      sobject,
		ContentType: "CSV",
	}
	var resp jobInfo
	if err := b.doXML(ctx, op, http.MethodPost, b.asyncURL+"/job", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", NewTransportError(ErrMalformedResponse, op, errors.New("response has no job id"))
	}
	return resp.ID, nil
}

// CloseJob implements Connection.
func (b *Bulk) CloseJob(ctx context.Context, jobID string) error {
	req := jobInfo{Xmlns: bulkNamespace, State: "Closed"}
	return b.doXML(ctx, "close_job", http.MethodPost, b.asyncURL+"/job/"+jobID, req, nil)
}

// GetJobStatus implements Connection.
func (b *Bulk) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp jobInfo
	if err := b.doXML(ctx, "get_job_status", http.MethodGet, b.asyncURL+"/job/"+jobID, nil, &resp); err != nil {
		return nil, err
	}
	return &JobStatus{
		Completed:     resp.NumberBatchesCompleted,
		Total:         resp.NumberBatchesTotal,
		Failed:        resp.NumberBatchesFailed,
		FailedRecords: resp.NumberRecordsFailed,
	}, nil
}

// SubmitBatch implements Connection.
func (b *Bulk) SubmitBatch(ctx context.Context, jobID, query string) (string, error) {
	const op = "submit_batch"
	endpoint := b.asyncURL + "/job/" + jobID + "/batch"
	body, err := b.do(ctx, op, http.MethodPost, endpoint, "text/csv; charset=UTF-8", strings.NewReader(query))
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(body)

	var resp batchInfo
	if err := xml.NewDecoder(body).Decode(&resp); err != nil {
		return "", NewTransportError(ErrMalformedResponse, op, err)
	}
	if resp.ID == "" {
		return "", NewTransportError(ErrMalformedResponse, op, errors.New("response has no batch id"))
	}
	return resp.ID, nil
}

// GetBatchStatus implements Connection.
func (b *Bulk) GetBatchStatus(ctx context.Context, jobID, batchID string) (types.BatchState, error) {
	var resp batchInfo
	endpoint := b.asyncURL + "/job/" + jobID + "/batch/" + batchID
	if err := b.doXML(ctx, "get_batch_status", http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	return types.ParseBatchState(resp.State), nil
}

// FetchBatchPayload implements Connection.
// A large batch may be split into several result files by the remote side;
// they are streamed back to back with the CSV header kept only once.
func (b *Bulk) FetchBatchPayload(ctx context.Context, jobID, batchID string) (io.ReadCloser, error) {
	const op = "fetch_batch_payload"
	resultURL := b.asyncURL + "/job/" + jobID + "/batch/" + batchID + "/result"

	var list resultList
	if err := b.doXML(ctx, op, http.MethodGet, resultURL, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Results) == 0 {
		return nil, NewTransportError(ErrMalformedResponse, op, errors.New("result list is empty"))
	}

	return &resultReader{ctx: ctx, bulk: b, baseURL: resultURL, ids: list.Results}, nil
}

// DescribeFields implements Connection.
// Compound address and location fields cannot be selected through the
// Bulk API and are excluded.
func (b *Bulk) DescribeFields(ctx context.Context, sobject string) ([]string, error) {
	var resp describeResult
	endpoint := b.dataURL + "/sobjects/" + url.PathEscape(sobject) + "/describe"
	if err := b.doJSON(ctx, "describe_fields", endpoint, &resp); err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		if f.Type == "address" || f.Type == "location" {
			continue
		}
		fields = append(fields, f.Name)
	}
	return fields, nil
}

// EarliestTimestamp implements Connection.
func (b *Bulk) EarliestTimestamp(ctx context.Context, sobject, dateField string) (time.Time, bool, error) {
	const op = "earliest_timestamp"
	soql := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC LIMIT 1", dateField, sobject, dateField)
	endpoint := b.dataURL + "/query?q=" + url.QueryEscape(soql)

	var resp queryResult
	if err := b.doJSON(ctx, op, endpoint, &resp); err != nil {
		return time.Time{}, false, err
	}
	if len(resp.Records) == 0 {
		return time.Time{}, false, nil
	}

	raw, ok := resp.Records[0][dateField].(string)
	if !ok {
		return time.Time{}, false, NewTransportError(ErrMalformedResponse, op,
			fmt.Errorf("record has no string field %s", dateField))
	}
	ts, err := time.Parse(remoteTimestampLayout, raw)
	if err != nil {
		return time.Time{}, false, NewTransportError(ErrMalformedResponse, op, err)
	}
	return ts, true, nil
}

// doXML sends an optional XML body and decodes an optional XML response.
func (b *Bulk) doXML(ctx context.Context, op, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := xml.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(append([]byte(xml.Header), data...))
	}

	body, err := b.do(ctx, op, method, endpoint, "application/xml; charset=UTF-8", reqBody)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(body)

	if out == nil {
		_, _ = io.Copy(io.Discard, body)
		return nil
	}
	if err := xml.NewDecoder(body).Decode(out); err != nil {
		return NewTransportError(ErrMalformedResponse, op, err)
	}
	return nil
}

// doJSON issues a REST GET and decodes the JSON response.
func (b *Bulk) doJSON(ctx context.Context, op, endpoint string, out any) error {
	body, err := b.do(ctx, op, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(body)

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return NewTransportError(ErrMalformedResponse, op, err)
	}
	return nil
}

// do performs one authenticated, rate-limited request and returns the body
// of a 2xx response. Non-2xx responses become classified TransportErrors.
func (b *Bulk) do(ctx context.Context, op, method, endpoint, contentType string, body io.Reader) (io.ReadCloser, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, NewTransportError(ErrNetwork, op, err)
		}
	}

	token, err := b.config.TokenSource.Token()
	if err != nil {
		return nil, NewTransportError(ErrAuth, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	// The async API authenticates with the session header, the REST API
	// with a bearer token. Both carry the same access token.
	req.Header.Set("X-SFDC-Session", token.AccessToken)
	token.SetAuthHeader(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, NewTransportError(ErrNetwork, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DrainClose(resp.Body)
		rerr := decodeRemoteError(resp)
		return nil, NewTransportError(classifyStatus(rerr.Status, rerr.Code), op, rerr)
	}
	return resp.Body, nil
}

// decodeRemoteError extracts the exception code from an error response.
// Bulk API errors are XML, REST API errors are a JSON array.
func decodeRemoteError(resp *http.Response) *remoteError {
	rerr := &remoteError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return rerr
	}

	var be bulkError
	if xml.Unmarshal(data, &be) == nil && be.ExceptionCode != "" {
		rerr.Code = be.ExceptionCode
		rerr.Message = be.ExceptionMessage
		return rerr
	}

	var re []restError
	if json.Unmarshal(data, &re) == nil && len(re) > 0 {
		rerr.Code = re[0].ErrorCode
		rerr.Message = re[0].Message
	}
	return rerr
}

// resultReader streams result files one after another, dropping the
// header line of every file after the first.
type resultReader struct {
	ctx     context.Context
	bulk    *Bulk
	baseURL string
	ids     []string
	next    int
	cur     io.ReadCloser
	buf     *bufio.Reader
}

func (r *resultReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.ids) {
				return 0, io.EOF
			}
			body, err := r.bulk.do(r.ctx, "fetch_batch_payload", http.MethodGet, r.baseURL+"/"+r.ids[r.next], "", nil)
			if err != nil {
				return 0, err
			}
			r.cur = body
			r.buf = bufio.NewReader(body)
			if r.next > 0 {
				if _, err := r.buf.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
					return 0, err
				}
			}
			r.next++
		}

		n, err := r.buf.Read(p)
		if errors.Is(err, io.EOF) {
			iox.DiscardClose(r.cur)
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *resultReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}

// Verify Bulk implements Connection.
var _ Connection = (*Bulk)(nil)
