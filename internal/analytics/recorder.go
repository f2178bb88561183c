// Package analytics records bid history to InfluxDB for dashboards and
// price trend queries. It consumes the same event feed as the reconciler
// and never touches the auction store.
package analytics

import (
	"context"
	"encoding/json"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/pkg/messaging"
	"github.com/terminal-bench/couponauction/shared/events"
)

// Recorder writes one point per accepted bid.
type Recorder struct {
	client influxdb2.Client
	write  influxapi.WriteAPIBlocking
	msg    *messaging.Client
}

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func NewRecorder(cfg Config, msg *messaging.Client) *Recorder {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		msg:    msg,
	}
}

// Start subscribes to the event feed and records bid points.
func (r *Recorder) Start(ctx context.Context) error {
	return r.msg.Subscribe(events.SubjectEvents, func(m *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			return
		}
		if ev.Type != events.TypeBidPlaced {
			return
		}

		var data events.BidPlacedData
		if err := ev.ParseData(&data); err != nil {
			log.Printf("analytics: bad bid payload in %s: %v", ev.Signature, err)
			return
		}
		r.RecordBid(ctx, data)
	})
}

// RecordBid writes one bid point.
func (r *Recorder) RecordBid(ctx context.Context, data events.BidPlacedData) {
	amount, err := decimal.NewFromString(data.Amount)
	if err != nil {
		log.Printf("analytics: bad bid amount %q: %v", data.Amount, err)
		return
	}
	value, _ := amount.Float64()

	point := influxdb2.NewPoint(
		"auction_bids",
		map[string]string{"auction": data.AuctionRef},
		map[string]interface{}{
			"amount": value,
			"bidder": data.BidderRef,
		},
		time.Unix(data.Timestamp, 0),
	)
	if err := r.write.WritePoint(ctx, point); err != nil {
		log.Printf("analytics: failed to write bid point for %s: %v", data.AuctionRef, err)
	}
}

// Close flushes and closes the InfluxDB client.
func (r *Recorder) Close() {
	r.client.Close()
}
