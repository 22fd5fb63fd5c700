package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"alertengine/internal/errorc"

	"github.com/olivere/elastic/v7"
)

var errs = errorc.NewBuilder("query")

// PPLExecutor is the production Executor: it posts composed PQL to the
// backing cluster's piped-query endpoint and translates its response
// into the package's Response shape. Grounded on the teacher's ES client
// construction (pkg/core/config/elastic.go) — elastic.Client.PerformRequest
// reaches any cluster REST API, not just the document CRUD ones the Alert
// Store uses, so the same client serves both.
type PPLExecutor struct {
	es       *elastic.Client
	endpoint string
}

// NewPPLExecutor wires an Executor against es. endpoint defaults to the
// cluster's piped-query-language REST path.
func NewPPLExecutor(es *elastic.Client, endpoint string) *PPLExecutor {
	if endpoint == "" {
		endpoint = "/_plugins/_ppl"
	}
	return &PPLExecutor{es: es, endpoint: endpoint}
}

type pplRequestBody struct {
	Query string `json:"query"`
}

type pplResponseBody struct {
	Schema   []Column `json:"schema"`
	Datarows []Row    `json:"datarows"`
	Total    int      `json:"total"`
	Size     int      `json:"size"`
}

// Execute implements Executor. Principal is carried as a request header
// so the cluster's own authorization layer can enforce backend-role
// scoping (spec §5) — this package never evaluates roles itself.
func (e *PPLExecutor) Execute(ctx context.Context, req Request, p Principal) (Response, error) {
	body := pplRequestBody{Query: req.Query}
	headers := principalHeaders(p)

	resp, err := e.es.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method:  http.MethodPost,
		Path:    e.endpoint,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		return Response{}, classifyExecError(err)
	}

	var parsed pplResponseBody
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return Response{}, errs.QueryFailed("decoding query executor response", err)
	}
	return Response{Schema: parsed.Schema, Datarows: parsed.Datarows, Total: parsed.Total, Size: parsed.Size}, nil
}

// ServerTime reads the cluster's own clock off the HTTP Date header of a
// lightweight request, per SPEC_FULL.md's resolution of the cluster-clock
// open question: the "cluster-absolute clock" is the search cluster's
// clock, observed through the same executor that runs queries.
func (e *PPLExecutor) ServerTime(ctx context.Context) (int64, error) {
	resp, err := e.es.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method: http.MethodGet,
		Path:   "/",
	})
	if err != nil {
		return 0, classifyExecError(err)
	}
	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, errs.QueryFailed("cluster response carried no Date header", nil)
	}
	t, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, errs.QueryFailed("parsing cluster Date header", err)
	}
	return t.UnixMilli(), nil
}

func principalHeaders(p Principal) http.Header {
	h := http.Header{}
	if p.Name != "" {
		h.Set("X-Alertengine-User", p.Name)
	}
	for _, r := range p.BackendRoles {
		h.Add("X-Alertengine-Backend-Role", r)
	}
	for _, r := range p.Roles {
		h.Add("X-Alertengine-Role", r)
	}
	return h
}

func classifyExecError(err error) error {
	if e, ok := err.(*elastic.Error); ok {
		switch e.Status {
		case http.StatusForbidden, http.StatusUnauthorized:
			return errs.AuthZ("query executor denied request", err)
		case http.StatusNotFound:
			return errs.NotFound("query executor endpoint not found", err)
		}
	}
	return errs.QueryFailed(fmt.Sprintf("query executor request failed: %v", err), err)
}

// ProbeFunc adapts ServerTime to clock.ProbeFunc's (time.Time, error) shape.
func (e *PPLExecutor) ProbeFunc() func(ctx context.Context) (time.Time, error) {
	return func(ctx context.Context) (time.Time, error) {
		ms, err := e.ServerTime(ctx)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}
