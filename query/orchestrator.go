package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"walkable-city/algo"
	"walkable-city/geocode"
	"walkable-city/location"
	"walkable-city/metrics"
	"walkable-city/model"
	"walkable-city/store"
	"walkable-city/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "walkable-city/query"

// ErrSelectorMalformed 选择器返回了无法解析的内容
// 选择器返回的其他错误都视为不可用
var ErrSelectorMalformed = errors.New("malformed selector reply")

// StateProvider 提供当前地点的快照，由 location.Manager 实现
type StateProvider interface {
	Current() (*location.State, error)
}

// Selection 选择器的决定: 一个操作名和它的参数
type Selection struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Selector 根据改写后的查询文本从菜单中选出一个操作
type Selector interface {
	Select(ctx context.Context, text string, menu Menu) (Selection, error)
}

// Publisher 发布已完成的查询结果，可以为 nil
type Publisher interface {
	Publish(ctx context.Context, result QueryResult) error
}

// Options 编排参数，0 表示不设超时
type Options struct {
	SelectorTimeout  time.Duration
	OperationTimeout time.Duration
}

// Orchestrator 串联 解析 -> 选择 -> 执行，并把结果包装为 QueryResult
type Orchestrator struct {
	states    StateProvider
	selector  Selector
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New 创建编排器
func New(states StateProvider, selector Selector, publisher Publisher, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		states:    states,
		selector:  selector,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// MenuFor 当前地点的菜单 (附带可用类别)
func MenuFor(state *location.State) Menu {
	return Menu{
		Operations: Operations(),
		Categories: state.Store.Categories(),
		Location:   state.Slug(),
	}
}

// Run 处理一条自然语言查询，永远返回一个完整的 QueryResult
func (o *Orchestrator) Run(ctx context.Context, text string) QueryResult {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "query.run")
	defer span.End()

	res := QueryResult{
		ID:             uuid.NewString(),
		Query:          text,
		ResolvedPlaces: map[string]geocode.Resolution{},
	}

	state, err := o.states.Current()
	if err != nil {
		return o.finish(ctx, span, start, res, Classify(err), err)
	}
	res.Location = state.Slug()

	_, rspan := o.tracer.Start(ctx, "query.resolve")
	rewritten, resolved := state.Resolver.Resolve(text)
	rspan.SetAttributes(attribute.Int("resolved", len(resolved)))
	rspan.End()
	res.RewrittenQuery = rewritten
	res.ResolvedPlaces = resolved

	sel, err := o.selectOperation(ctx, rewritten, MenuFor(state))
	if err != nil {
		kind := KindSelectorUnavailable
		if errors.Is(err, ErrSelectorMalformed) {
			kind = KindSelectorMalformed
		}
		return o.finish(ctx, span, start, res, kind, err)
	}
	res.Operation = Operation(sel.Name)
	res.Arguments = sel.Arguments

	req, err := Decode(sel.Name, sel.Arguments)
	if err != nil {
		return o.finish(ctx, span, start, res, KindSelectorMalformed, err)
	}

	out, err := o.execute(ctx, state, req)
	if err != nil {
		return o.finish(ctx, span, start, res, Classify(err), err)
	}
	res.Output = out
	return o.finish(ctx, span, start, res, "", nil)
}

// Execute 直接执行一个类型化请求，跳过解析和选择
func (o *Orchestrator) Execute(ctx context.Context, req Request) QueryResult {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "query.execute_direct")
	defer span.End()

	res := QueryResult{
		ID:             uuid.NewString(),
		Operation:      req.Operation(),
		ResolvedPlaces: map[string]geocode.Resolution{},
	}
	if args, err := json.Marshal(req); err == nil {
		res.Arguments = args
	}
	if err := req.Validate(); err != nil {
		return o.finish(ctx, span, start, res, KindSelectorMalformed, err)
	}

	state, err := o.states.Current()
	if err != nil {
		return o.finish(ctx, span, start, res, Classify(err), err)
	}
	res.Location = state.Slug()

	out, err := o.execute(ctx, state, req)
	if err != nil {
		return o.finish(ctx, span, start, res, Classify(err), err)
	}
	res.Output = out
	return o.finish(ctx, span, start, res, "", nil)
}

func (o *Orchestrator) selectOperation(ctx context.Context, text string, menu Menu) (sel Selection, err error) {
	if o.selector == nil {
		return Selection{}, errors.New("no operation selector configured")
	}
	ctx, span := o.tracer.Start(ctx, "query.select")
	defer span.End()
	if o.opts.SelectorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.SelectorTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.SelectorDurationSeconds.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("selector panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return o.selector.Select(ctx, text, menu)
}

// execute 在超时和 recover 保护下分发到路由引擎或兴趣点存储
func (o *Orchestrator) execute(ctx context.Context, state *location.State, req Request) (out any, err error) {
	ctx, span := o.tracer.Start(ctx, "query.dispatch", trace.WithAttributes(attribute.String("operation", string(req.Operation()))))
	defer span.End()
	if o.opts.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.OperationTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("operation_panic", "operation", req.Operation(), "panic", r)
			out, err = nil, fmt.Errorf("%s 执行异常: %v", req.Operation(), r)
		}
		if err == nil && ctx.Err() != nil {
			out, err = nil, ctx.Err()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return dispatch(ctx, state, req)
}

// GeocodeOutput geocode_lookup 的输出，未找到时 Found 为 false
type GeocodeOutput struct {
	Found   bool    `json:"found"`
	Query   string  `json:"query"`
	Name    string  `json:"name,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	Source  string  `json:"source,omitempty"`
	Matches int     `json:"matches"`
	Count   int     `json:"count"`
}

// NearbyOutput list_nearby_features 的输出
type NearbyOutput struct {
	Category     string             `json:"category"`
	Center       model.Point        `json:"center"`
	RadiusMeters float64            `json:"radiusMeters"`
	Count        int                `json:"count"`
	Items        []store.FeatureHit `json:"items"`
}

func checkPoint(lat, lon float64) error {
	if !utils.ValidCoordinate(lat, lon) {
		return fmt.Errorf("%w: coordinate (%f, %f) out of range", algo.ErrInvalidArgument, lat, lon)
	}
	return nil
}

func orDefault(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func dispatch(ctx context.Context, state *location.State, req Request) (any, error) {
	switch r := req.(type) {
	case GeocodeLookupRequest:
		out := GeocodeOutput{Query: r.PlaceName}
		if hit, ok := state.Resolver.Lookup(r.PlaceName); ok {
			out = GeocodeOutput{
				Found: true, Query: r.PlaceName, Name: hit.Name,
				Lat: hit.Lat, Lon: hit.Lon, Source: hit.Source, Matches: hit.Matches, Count: 1,
			}
		}
		return out, nil

	case ListNearbyRequest:
		if err := checkPoint(r.Lat, r.Lon); err != nil {
			return nil, err
		}
		limit := r.Limit
		if limit <= 0 {
			limit = DefaultListLimit
		}
		radius := orDefault(r.RadiusMeters, DefaultListRadiusMeters)
		items := state.Store.NearestFeatures(r.Category, r.Lat, r.Lon, limit, radius)
		return NearbyOutput{
			Category:     r.Category,
			Center:       model.Point{Lat: r.Lat, Lon: r.Lon},
			RadiusMeters: radius,
			Count:        len(items),
			Items:        items,
		}, nil

	case CountFeaturesRequest:
		if err := checkPoint(r.Lat, r.Lon); err != nil {
			return nil, err
		}
		radius := orDefault(r.RadiusMeters, DefaultListRadiusMeters)
		if len(r.Categories) > 0 {
			return state.Store.CountFeaturesByCategories(r.Categories, r.Lat, r.Lon, radius), nil
		}
		return state.Store.CountFeatures(r.Category, r.Lat, r.Lon, radius), nil

	case NearestByWalkingRequest:
		return state.Router.NearestFeatureByWalkingDistance(ctx, r.Category, r.Lat, r.Lon, r.Limit, r.SearchRadiusMeters)

	case RouteRequest:
		return state.Router.Route(ctx, r.StartLat, r.StartLon, r.EndLat, r.EndLon)

	case IsochroneRequest:
		return state.Router.Isochrone(ctx, r.Lat, r.Lon, r.MaxMinutes)

	case AlongRouteRequest:
		return state.Router.FeaturesAlongRoute(ctx, r.StartLat, r.StartLon, r.EndLat, r.EndLon, r.Category, r.BufferMeters)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation())
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, start time.Time, res QueryResult, kind ErrorKind, err error) QueryResult {
	res.ElapsedSeconds = time.Since(start).Seconds()
	if err != nil {
		res.Success = false
		res.ErrorKind = kind
		res.ErrorMessage = err.Error()
		res.Output = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("query_failed",
			"id", res.ID, "operation", res.Operation, "kind", kind,
			"error", err, "elapsed", res.ElapsedSeconds)
	} else {
		res.Success = true
		o.logger.Info("query_completed",
			"id", res.ID, "operation", res.Operation, "location", res.Location,
			"elapsed", res.ElapsedSeconds)
	}

	op := string(res.Operation)
	if op == "" {
		op = "none"
	}
	metrics.QueriesTotal.WithLabelValues(op, res.Outcome()).Inc()
	metrics.QueryDurationSeconds.WithLabelValues(op).Observe(res.ElapsedSeconds)

	if o.publisher != nil {
		if perr := o.publisher.Publish(ctx, res); perr != nil {
			o.logger.Warn("publish_failed", "id", res.ID, "error", perr)
		}
	}
	return res
}
