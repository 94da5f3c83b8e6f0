package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// buildQueueArgs creates the AMQP arguments of an instance queue
func buildQueueArgs(options Options) amqp.Table {
	args := amqp.Table{}

	if options.MessageTTL > 0 {
		args["x-message-ttl"] = int64(options.MessageTTL / time.Millisecond)
	}

	if options.MaxLength > 0 {
		args["x-max-length"] = options.MaxLength
		args["x-overflow"] = "drop-head"
	}

	return args
}

// exchangeName maps a bus channel to its fanout exchange
func exchangeName(options Options, channel string) string {
	return options.ExchangePrefix + channel
}
