package audit

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPEmitter はRabbitMQのトピックエクスチェンジへ監査イベントを発行する
type AMQPEmitter struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPEmitter はブローカーへ接続しエクスチェンジを宣言する
func NewAMQPEmitter(url, exchange string) (*AMQPEmitter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQ接続に失敗: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("チャンネル作成に失敗: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("エクスチェンジ宣言に失敗: %w", err)
	}
	return &AMQPEmitter{conn: conn, ch: ch, exchange: exchange}, nil
}

// Emit はイベント種別をルーティングキーとしてJSONを発行する
func (e *AMQPEmitter) Emit(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("監査イベントのシリアライズに失敗: %w", err)
	}
	if err := e.ch.PublishWithContext(ctx, e.exchange, event.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return fmt.Errorf("監査イベント発行に失敗: %w", err)
	}
	return nil
}

// Close は接続を閉じる
func (e *AMQPEmitter) Close() error {
	if e.ch != nil {
		_ = e.ch.Close()
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

var _ Emitter = (*AMQPEmitter)(nil)
var _ Emitter = (*NopEmitter)(nil)
