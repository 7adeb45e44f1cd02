// Package events 把完成的查询结果发布到 NATS，并在消息头中携带 trace 上下文
package events

import (
	"context"
	"encoding/json"

	"walkable-city/metrics"
	"walkable-city/query"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier 让 nats.Msg 的消息头满足 propagation.TextMapCarrier
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Conn 发布所需的最小 NATS 接口，*nats.Conn 满足
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher 实现 query.Publisher
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher conn 为 nil 时发布为空操作
// 值为 nil 的 *nats.Conn 包进接口后不等于 nil，这里统一还原成 nil
func NewPublisher(conn Conn, subject string) *Publisher {
	if nc, ok := conn.(*nats.Conn); ok && nc == nil {
		conn = nil
	}
	return &Publisher{conn: conn, subject: subject}
}

// Connect 连接 NATS 并返回发布者，url 为空时返回 (nil, nil) 表示不发布
func Connect(url, subject string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url, nats.Name("walkable-city"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return NewPublisher(nc, subject), nil
}

// Close 发送完缓冲中的消息后断开，nil 安全
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if nc, ok := p.conn.(*nats.Conn); ok {
		_ = nc.Drain()
	}
}

// Publish 序列化并发布结果
func (p *Publisher) Publish(ctx context.Context, result query.QueryResult) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return err
	}
	msg := &nats.Msg{Subject: p.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := p.conn.PublishMsg(msg); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}
