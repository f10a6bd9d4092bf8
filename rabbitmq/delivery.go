package rabbitmq

import (
	"github.com/israelio/amqp-engine/internal/protocol"
)

// Delivery represents a message delivered to a consumer
type Delivery struct {
	// Message metadata
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string

	// Message content
	Properties Properties
	Body       []byte

	// Channel incarnation the delivery tag belongs to
	ch    *channel
	epoch uint64
}

// Ack acknowledges this delivery. Settlements are sent asynchronously; one
// made after the channel reopened is dropped, since its tag no longer
// refers to anything on the server.
func (d *Delivery) Ack(multiple bool) error {
	return d.settle(protocol.BasicAck, protocol.Arguments{
		"deliveryTag": protocol.LongLong(d.DeliveryTag),
		"multiple":    protocol.Bit(multiple),
	})
}

// Nack negatively acknowledges this delivery
func (d *Delivery) Nack(multiple, requeue bool) error {
	return d.settle(protocol.BasicNack, protocol.Arguments{
		"deliveryTag": protocol.LongLong(d.DeliveryTag),
		"multiple":    protocol.Bit(multiple),
		"requeue":     protocol.Bit(requeue),
	})
}

// Reject rejects this delivery
func (d *Delivery) Reject(requeue bool) error {
	return d.settle(protocol.BasicReject, protocol.Arguments{
		"deliveryTag": protocol.LongLong(d.DeliveryTag),
		"requeue":     protocol.Bit(requeue),
	})
}

func (d *Delivery) settle(id protocol.MethodID, args protocol.Arguments) error {
	ch, epoch := d.ch, d.epoch
	if ch == nil {
		return ErrChannelClosed
	}

	posted := ch.conn.exec.post(func() {
		if ch.removed {
			return
		}
		ch.tasks.push(0, func() error {
			if ch.epoch != epoch {
				ch.logger.Debug().
					Uint64("delivery_tag", d.DeliveryTag).
					Msg("dropping settlement from a previous channel incarnation")
				return nil
			}
			return ch.send(id, args)
		}, nil)
	})
	if !posted {
		return ErrClosed
	}
	return nil
}
