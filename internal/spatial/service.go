// Package spatial runs spatial operations on an execution engine and turns
// the outcome into the text payload returned to callers.
package spatial

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"github.com/iut62elec/CIMApplication/internal/render"
	"github.com/iut62elec/CIMApplication/internal/tabular"
)

// DefaultClass is the engine class implementing the spatial operations.
const DefaultClass = "ch.ninecode.sp.SpatialOperations"

// Defaults are the parameter values used when a query leaves them out.
type Defaults struct {
	PSR string `yaml:"psr"`
	Lon string `yaml:"lon"`
	Lat string `yaml:"lat"`
	N   string `yaml:"n"`
}

// StandardDefaults returns the stock parameter defaults.
func StandardDefaults() Defaults {
	return Defaults{PSR: "EnergyConsumer", Lon: "7.281558", Lat: "47.124142", N: "5"}
}

// Query is one caller request.
type Query struct {
	Method string
	Files  []string
	Params map[string]string
	Format render.Format
}

// Result is the outcome of one invocation. Text is always set.
type Result struct {
	RequestID string
	Text      string
	Format    render.Format
	Rows      int
	Err       error
	Duration  time.Duration
	FromCache bool
}

// Invoker runs queries. Both Service and CachedService implement it.
type Invoker interface {
	Invoke(ctx context.Context, q Query) Result
}

// Options configures a Service. Zero fields take defaults.
type Options struct {
	Class    string
	Function string
	Defaults Defaults
	Paths    *Paths
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

// Service invokes spatial operations through a connector session.
type Service struct {
	session  *connector.Session
	class    string
	defaults Defaults
	paths    *Paths
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service using factory for every invocation.
func NewService(factory connector.Factory, opts Options) *Service {
	if opts.Class == "" {
		opts.Class = DefaultClass
	}
	if opts.Defaults == (Defaults{}) {
		opts.Defaults = StandardDefaults()
	}
	if opts.Paths == nil {
		opts.Paths = &Paths{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	return &Service{
		session:  connector.NewSession(factory, opts.Function),
		class:    opts.Class,
		defaults: opts.Defaults,
		paths:    opts.Paths,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Request resolves q into an operation request: defaults applied, input
// files resolved and the code artifact looked up.
func (s *Service) Request(q Query) *domain.OperationRequest {
	params := maps.Clone(q.Params)
	if params == nil {
		params = make(map[string]string, 4)
	}
	setDefault(params, domain.ParamPSR, s.defaults.PSR)
	setDefault(params, domain.ParamLon, s.defaults.Lon)
	setDefault(params, domain.ParamLat, s.defaults.Lat)
	setDefault(params, domain.ParamN, s.defaults.N)

	return &domain.OperationRequest{
		Operation: q.Method,
		Class:     s.class,
		Jars:      s.paths.JarPath(s.class),
		Files:     s.paths.InputPaths(q.Files),
		Params:    params,
	}
}

// setDefault fills key only when the caller left it out; an explicit empty
// value is kept.
func setDefault(params map[string]string, key, value string) {
	if _, ok := params[key]; !ok && value != "" {
		params[key] = value
	}
}

// Invoke runs q once. It never fails: errors are rendered as diagnostics
// after any rows that were read, and also returned in Result.Err.
func (s *Service) Invoke(ctx context.Context, q Query) Result {
	start := time.Now()
	req := s.Request(q)
	res := Result{RequestID: uuid.New().String(), Format: q.Format}

	ctx, span := observability.StartSpan(ctx, "spatial.invoke",
		observability.AttrOperation.String(req.Operation),
		observability.AttrClass.String(req.Class),
		observability.AttrRequestID.String(res.RequestID),
		observability.AttrFiles.StringSlice(req.Files),
	)
	defer span.End()
	ctx = connector.WithRequestID(ctx, res.RequestID)

	metrics.IncActiveInvocations()
	defer metrics.DecActiveInvocations()

	var rows []domain.ResultRow
	opened := false
	env, err := envelope.FromRequest(req)
	if err == nil {
		logging.OpContext(ctx).Debug("executing operation", "request_id", res.RequestID, "envelope", env.String())
		err = s.session.Do(ctx, env, func(rs connector.ResultSet) error {
			opened = true
			var readErr error
			rows, readErr = tabular.Collect(tabular.Rows(rs))
			return readErr
		})
	}

	res.Rows = len(rows)
	res.Text, res.Err = compose(q.Format, opened, rows, err)
	res.Duration = time.Since(start)

	span.SetAttributes(observability.AttrRows.Int(res.Rows))
	if res.Err != nil {
		observability.SetSpanError(span, res.Err)
		span.SetAttributes(observability.AttrErrorKind.String(connector.Describe(res.Err)))
	} else {
		observability.SetSpanOK(span)
	}
	s.record(ctx, req, res)
	return res
}

// compose renders the rows, when a result set was opened, followed by one
// diagnostic block per error.
func compose(format render.Format, opened bool, rows []domain.ResultRow, err error) (string, error) {
	var b strings.Builder
	if opened {
		out, renderErr := render.Rows(format, rows)
		if renderErr != nil {
			err = errors.Join(err, domain.Wrap(domain.InteractionFailed, "render rows", renderErr))
		} else {
			b.WriteString(out)
		}
	}
	for _, e := range connector.Errors(err) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(render.Diagnostic(e))
	}
	return b.String(), err
}

func (s *Service) record(ctx context.Context, req *domain.OperationRequest, res Result) {
	entry := &logging.InvocationLog{
		RequestID:  res.RequestID,
		TraceID:    observability.GetTraceID(ctx),
		Operation:  req.Operation,
		Class:      req.Class,
		Files:      req.Files,
		Format:     res.Format.String(),
		Rows:       res.Rows,
		DurationMs: res.Duration.Milliseconds(),
		Success:    res.Err == nil,
		OutputSize: len(res.Text),
		FromCache:  res.FromCache,
	}
	if res.Err != nil {
		entry.ErrorKind = connector.Describe(res.Err)
		entry.Error = res.Err.Error()
		for _, e := range connector.Errors(res.Err) {
			metrics.RecordFailure(connector.Describe(e))
		}
	}
	s.logger.Log(entry)
	s.metrics.RecordInvocation(req.Operation, entry.Format, entry.DurationMs, res.Rows, entry.Success, res.FromCache)
}
