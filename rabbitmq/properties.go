package rabbitmq

import (
	"time"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// Table is an alias for AMQP field table
type Table = protocol.Table

// Properties represents AMQP basic content properties
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       time.Time
	Type            string
	UserId          string
	AppId           string
	ClusterId       string
}

// arguments converts the set properties into content header arguments.
// Zero values are left out so their presence flag stays clear.
func (p Properties) arguments() protocol.Arguments {
	args := protocol.Arguments{}
	setString := func(name, v string) {
		if v != "" {
			args[name] = protocol.ShortString(v)
		}
	}

	setString("contentType", p.ContentType)
	setString("contentEncoding", p.ContentEncoding)
	if len(p.Headers) > 0 {
		args["headers"] = p.Headers
	}
	if p.DeliveryMode != 0 {
		args["deliveryMode"] = protocol.Octet(p.DeliveryMode)
	}
	if p.Priority != 0 {
		args["priority"] = protocol.Octet(p.Priority)
	}
	setString("correlationId", p.CorrelationId)
	setString("replyTo", p.ReplyTo)
	setString("expiration", p.Expiration)
	setString("messageId", p.MessageId)
	if !p.Timestamp.IsZero() {
		args["timestamp"] = protocol.Timestamp(p.Timestamp)
	}
	setString("type", p.Type)
	setString("userId", p.UserId)
	setString("appId", p.AppId)
	setString("clusterId", p.ClusterId)
	return args
}

// propertiesFrom converts decoded content header arguments.
func propertiesFrom(args protocol.Arguments) Properties {
	return Properties{
		ContentType:     args.String("contentType"),
		ContentEncoding: args.String("contentEncoding"),
		Headers:         args.Table("headers"),
		DeliveryMode:    args.Uint8("deliveryMode"),
		Priority:        args.Uint8("priority"),
		CorrelationId:   args.String("correlationId"),
		ReplyTo:         args.String("replyTo"),
		Expiration:      args.String("expiration"),
		MessageId:       args.String("messageId"),
		Timestamp:       args.Time("timestamp"),
		Type:            args.String("type"),
		UserId:          args.String("userId"),
		AppId:           args.String("appId"),
		ClusterId:       args.String("clusterId"),
	}
}

// Persistent reports whether the message asks to survive a broker restart.
func (p Properties) Persistent() bool {
	return p.DeliveryMode == protocol.DeliveryModePersistent
}
