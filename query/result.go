package query

import (
	"context"
	"encoding/json"
	"errors"

	"walkable-city/algo"
	"walkable-city/geocode"
	"walkable-city/location"
)

// ErrorKind 失败分类，调用方据此决定是否重试或回退
type ErrorKind string

const (
	KindLocationNotFound    ErrorKind = "location_not_found"
	KindGraphNotFound       ErrorKind = "graph_not_found"
	KindCorruptGraphData    ErrorKind = "corrupt_graph_data"
	KindNoLocationLoaded    ErrorKind = "no_location_loaded"
	KindNoRouteFound        ErrorKind = "no_route_found"
	KindNoStartNode         ErrorKind = "no_start_node"
	KindSelectorUnavailable ErrorKind = "operation_selector_unavailable"
	KindSelectorMalformed   ErrorKind = "operation_selector_malformed"
	KindExecutionFailed     ErrorKind = "operation_execution_failed"
	KindTimeout             ErrorKind = "timeout"
)

// QueryResult 每次查询都返回的统一结果
type QueryResult struct {
	ID             string                        `json:"id"`
	Query          string                        `json:"query,omitempty"`
	Operation      Operation                     `json:"operation,omitempty"`
	Arguments      json.RawMessage               `json:"arguments,omitempty"`
	Output         any                           `json:"output,omitempty"`
	ResolvedPlaces map[string]geocode.Resolution `json:"resolvedPlaces"`
	RewrittenQuery string                        `json:"rewrittenQuery,omitempty"`
	ElapsedSeconds float64                       `json:"elapsedSeconds"`
	Success        bool                          `json:"success"`
	ErrorKind      ErrorKind                     `json:"errorKind,omitempty"`
	ErrorMessage   string                        `json:"errorMessage,omitempty"`
	Location       string                        `json:"location,omitempty"`
}

// Outcome 用于指标标签
func (r QueryResult) Outcome() string {
	if r.Success {
		return "success"
	}
	return string(r.ErrorKind)
}

// Classify 把执行阶段的错误映射为 ErrorKind
// 选择器的错误不经过这里，由调用处区分不可用和格式错误
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, location.ErrNoLocationLoaded):
		return KindNoLocationLoaded
	case errors.Is(err, location.ErrLocationNotFound):
		return KindLocationNotFound
	case errors.Is(err, location.ErrGraphNotFound):
		return KindGraphNotFound
	case errors.Is(err, location.ErrCorruptGraphData):
		return KindCorruptGraphData
	case errors.Is(err, algo.ErrNoRoute):
		return KindNoRouteFound
	case errors.Is(err, algo.ErrNoStartNode):
		return KindNoStartNode
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrInvalidArguments):
		return KindSelectorMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindExecutionFailed
	}
}
