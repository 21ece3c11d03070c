// Command booking-events-tail prints booking events as the outbox publisher emits them.
// It is a debugging aid; delivery is at least once, so the same event_id may repeat.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	brokers := flag.String("brokers", config.String("KAFKA_BROKERS", "localhost:9092"), "comma separated kafka brokers")
	group := flag.String("group", config.String("KAFKA_GROUP_ID", "booking-events-tail"), "consumer group")
	flag.Parse()

	logger := runtime.NewLogger("booking-events-tail")
	ctx, stop := runtime.SignalContext()
	defer stop()

	list := kafkax.SplitBrokers(*brokers)
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "no kafka brokers configured")
		os.Exit(2)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     list,
		GroupID:     *group,
		GroupTopics: booking.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	logger.Info("tailing booking events", "brokers", *brokers, "topics", len(booking.Topics))
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Error("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}

		meta := kafkax.ExtractEventMeta(msg)
		sc := trace.SpanContextFromContext(kafkax.ExtractTraceContext(ctx, msg))
		logger.Info("event",
			"event_type", meta.EventType,
			"event_id", meta.EventID,
			"aggregate_id", string(msg.Key),
			"partition", msg.Partition,
			"offset", msg.Offset,
			"trace_id", sc.TraceID().String(),
			"payload", string(msg.Value),
		)
	}
}
