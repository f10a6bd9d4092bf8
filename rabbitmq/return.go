package rabbitmq

// Return represents a message returned by the broker (unroutable)
type Return struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties Properties
	Body       []byte
}

// ReturnListener handles returned messages
type ReturnListener interface {
	HandleReturn(ret Return)
}

// ReturnListenerFunc adapts a function to ReturnListener.
type ReturnListenerFunc func(ret Return)

// HandleReturn calls f(ret).
func (f ReturnListenerFunc) HandleReturn(ret Return) { f(ret) }

func returnFrom(msg *inflightMessage) Return {
	args := msg.method.Args
	return Return{
		ReplyCode:  args.Uint16("replyCode"),
		ReplyText:  args.String("replyText"),
		Exchange:   args.String("exchange"),
		RoutingKey: args.String("routingKey"),
		Properties: msg.properties,
		Body:       msg.body,
	}
}
