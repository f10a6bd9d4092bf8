package protocol

// AMQP 0-9-1 method and class table for the classes the engine speaks.
// Field names follow the camelCase form used on Arguments.

var (
	bit       = DomainBit
	octet     = DomainOctet
	short     = DomainShort
	long      = DomainLong
	longlong  = DomainLongLong
	shortstr  = DomainShortString
	longstr   = DomainLongString
	table     = DomainTable
	timestamp = DomainTimestamp
)

func fields(pairs ...interface{}) []FieldSpec {
	out := make([]FieldSpec, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, FieldSpec{Name: pairs[i].(string), Domain: pairs[i+1].(Domain)})
	}
	return out
}

var amqp091Classes = []ClassSpec{
	{Index: ClassConnection, Name: "connection"},
	{Index: ClassChannel, Name: "channel"},
	{Index: ClassExchange, Name: "exchange"},
	{Index: ClassQueue, Name: "queue"},
	{Index: ClassBasic, Name: "basic", Properties: fields(
		"contentType", shortstr,
		"contentEncoding", shortstr,
		"headers", table,
		"deliveryMode", octet,
		"priority", octet,
		"correlationId", shortstr,
		"replyTo", shortstr,
		"expiration", shortstr,
		"messageId", shortstr,
		"timestamp", timestamp,
		"type", shortstr,
		"userId", shortstr,
		"appId", shortstr,
		"clusterId", shortstr,
	)},
	{Index: ClassConfirm, Name: "confirm"},
	{Index: ClassTx, Name: "tx"},
}

var amqp091Methods = []MethodSpec{
	{ID: ConnectionStart, Name: "connectionStart", Fields: fields(
		"versionMajor", octet,
		"versionMinor", octet,
		"serverProperties", table,
		"mechanisms", longstr,
		"locales", longstr,
	)},
	{ID: ConnectionStartOk, Name: "connectionStartOk", Fields: fields(
		"clientProperties", table,
		"mechanism", shortstr,
		"response", longstr,
		"locale", shortstr,
	)},
	{ID: ConnectionSecure, Name: "connectionSecure", Fields: fields(
		"challenge", longstr,
	)},
	{ID: ConnectionSecureOk, Name: "connectionSecureOk", Fields: fields(
		"response", longstr,
	)},
	{ID: ConnectionTune, Name: "connectionTune", Fields: fields(
		"channelMax", short,
		"frameMax", long,
		"heartbeat", short,
	)},
	{ID: ConnectionTuneOk, Name: "connectionTuneOk", Fields: fields(
		"channelMax", short,
		"frameMax", long,
		"heartbeat", short,
	)},
	{ID: ConnectionOpen, Name: "connectionOpen", Fields: fields(
		"virtualHost", shortstr,
		"reserved1", shortstr,
		"reserved2", bit,
	)},
	{ID: ConnectionOpenOk, Name: "connectionOpenOk", Fields: fields(
		"reserved1", shortstr,
	)},
	{ID: ConnectionClose, Name: "connectionClose", Fields: fields(
		"replyCode", short,
		"replyText", shortstr,
		"classId", short,
		"methodId", short,
	)},
	{ID: ConnectionCloseOk, Name: "connectionCloseOk"},
	{ID: ConnectionBlocked, Name: "connectionBlocked", Fields: fields(
		"reason", shortstr,
	)},
	{ID: ConnectionUnblocked, Name: "connectionUnblocked"},

	{ID: ChannelOpen, Name: "channelOpen", Fields: fields(
		"reserved1", shortstr,
	)},
	{ID: ChannelOpenOk, Name: "channelOpenOk", Fields: fields(
		"reserved1", longstr,
	)},
	{ID: ChannelFlow, Name: "channelFlow", Fields: fields(
		"active", bit,
	)},
	{ID: ChannelFlowOk, Name: "channelFlowOk", Fields: fields(
		"active", bit,
	)},
	{ID: ChannelClose, Name: "channelClose", Fields: fields(
		"replyCode", short,
		"replyText", shortstr,
		"classId", short,
		"methodId", short,
	)},
	{ID: ChannelCloseOk, Name: "channelCloseOk"},

	{ID: ExchangeDeclare, Name: "exchangeDeclare", Fields: fields(
		"reserved1", short,
		"exchange", shortstr,
		"type", shortstr,
		"passive", bit,
		"durable", bit,
		"autoDelete", bit,
		"internal", bit,
		"noWait", bit,
		"arguments", table,
	)},
	{ID: ExchangeDeclareOk, Name: "exchangeDeclareOk"},
	{ID: ExchangeDelete, Name: "exchangeDelete", Fields: fields(
		"reserved1", short,
		"exchange", shortstr,
		"ifUnused", bit,
		"noWait", bit,
	)},
	{ID: ExchangeDeleteOk, Name: "exchangeDeleteOk"},
	{ID: ExchangeBind, Name: "exchangeBind", Fields: fields(
		"reserved1", short,
		"destination", shortstr,
		"source", shortstr,
		"routingKey", shortstr,
		"noWait", bit,
		"arguments", table,
	)},
	{ID: ExchangeBindOk, Name: "exchangeBindOk"},
	{ID: ExchangeUnbind, Name: "exchangeUnbind", Fields: fields(
		"reserved1", short,
		"destination", shortstr,
		"source", shortstr,
		"routingKey", shortstr,
		"noWait", bit,
		"arguments", table,
	)},
	{ID: ExchangeUnbindOk, Name: "exchangeUnbindOk"},

	{ID: QueueDeclare, Name: "queueDeclare", Fields: fields(
		"reserved1", short,
		"queue", shortstr,
		"passive", bit,
		"durable", bit,
		"exclusive", bit,
		"autoDelete", bit,
		"noWait", bit,
		"arguments", table,
	)},
	{ID: QueueDeclareOk, Name: "queueDeclareOk", Fields: fields(
		"queue", shortstr,
		"messageCount", long,
		"consumerCount", long,
	)},
	{ID: QueueBind, Name: "queueBind", Fields: fields(
		"reserved1", short,
		"queue", shortstr,
		"exchange", shortstr,
		"routingKey", shortstr,
		"noWait", bit,
		"arguments", table,
	)},
	{ID: QueueBindOk, Name: "queueBindOk"},
	{ID: QueuePurge, Name: "queuePurge", Fields: fields(
		"reserved1", short,
		"queue", shortstr,
		"noWait", bit,
	)},
	{ID: QueuePurgeOk, Name: "queuePurgeOk", Fields: fields(
		"messageCount", long,
	)},
	{ID: QueueDelete, Name: "queueDelete", Fields: fields(
		"reserved1", short,
		"queue", shortstr,
		"ifUnused", bit,
		"ifEmpty", bit,
		"noWait", bit,
	)},
	{ID: QueueDeleteOk, Name: "queueDeleteOk", Fields: fields(
		"messageCount", long,
	)},
	{ID: QueueUnbind, Name: "queueUnbind", Fields: fields(
		"reserved1", short,
		"queue", shortstr,
		"exchange", shortstr,
		"routingKey", shortstr,
		"arguments", table,
	)},
	{ID: QueueUnbindOk, Name: "queueUnbindOk"},

	{ID: BasicQos, Name: "basicQos", Fields: fields(
		"prefetchSize", long,
		"prefetchCount", short,
		"global", bit,
	)},
	{ID: BasicQosOk, Name: "basicQosOk"},
	{ID: BasicConsume, Name: "basicConsume", Fields: fields(
		"reserved1", short,
		"queue", shortstr,
		"consumerTag", shortstr,
		"noLocal", bit,
		"noAck", bit,
		"exclusive", bit,
		"noWait", bit,
		"arguments", table,
	)},
	{ID: BasicConsumeOk, Name: "basicConsumeOk", Fields: fields(
		"consumerTag", shortstr,
	)},
	{ID: BasicCancel, Name: "basicCancel", Fields: fields(
		"consumerTag", shortstr,
		"noWait", bit,
	)},
	{ID: BasicCancelOk, Name: "basicCancelOk", Fields: fields(
		"consumerTag", shortstr,
	)},
	{ID: BasicPublish, Name: "basicPublish", Content: true, Fields: fields(
		"reserved1", short,
		"exchange", shortstr,
		"routingKey", shortstr,
		"mandatory", bit,
		"immediate", bit,
	)},
	{ID: BasicReturn, Name: "basicReturn", Content: true, Fields: fields(
		"replyCode", short,
		"replyText", shortstr,
		"exchange", shortstr,
		"routingKey", shortstr,
	)},
	{ID: BasicDeliver, Name: "basicDeliver", Content: true, Fields: fields(
		"consumerTag", shortstr,
		"deliveryTag", longlong,
		"redelivered", bit,
		"exchange", shortstr,
		"routingKey", shortstr,
	)},
	{ID: BasicAck, Name: "basicAck", Fields: fields(
		"deliveryTag", longlong,
		"multiple", bit,
	)},
	{ID: BasicReject, Name: "basicReject", Fields: fields(
		"deliveryTag", longlong,
		"requeue", bit,
	)},
	{ID: BasicNack, Name: "basicNack", Fields: fields(
		"deliveryTag", longlong,
		"multiple", bit,
		"requeue", bit,
	)},

	{ID: ConfirmSelect, Name: "confirmSelect", Fields: fields(
		"noWait", bit,
	)},
	{ID: ConfirmSelectOk, Name: "confirmSelectOk"},
}

// AMQP091 is the dictionary shared by every connection.
var AMQP091 = NewDictionary(amqp091Classes, amqp091Methods)
