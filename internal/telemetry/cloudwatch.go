package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// CloudWatchPublisher pushes the counter increments accumulated since the last
// successful flush as CloudWatch metrics.
type CloudWatchPublisher struct {
	client    aws.CloudWatchAPI
	metrics   *Metrics
	namespace string
	scope     string
	now       func() time.Time

	mu      sync.Mutex
	flushed map[idempotency.Event]int64
}

// NewCloudWatchPublisher returns a publisher tagging every datum with a Scope dimension.
func NewCloudWatchPublisher(client aws.CloudWatchAPI, metrics *Metrics, namespace, scope string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    client,
		metrics:   metrics,
		namespace: namespace,
		scope:     scope,
		now:       time.Now,
		flushed:   make(map[idempotency.Event]int64),
	}
}

// Flush sends the non-zero deltas. On failure the deltas are kept for the next flush.
func (p *CloudWatchPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.metrics.Snapshot()
	ts := p.now()
	var data []cwtypes.MetricDatum
	for _, e := range Events {
		delta := snapshot[e] - p.flushed[e]
		if delta <= 0 {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: awsString(metricName(e)),
			Value:      awsFloat(float64(delta)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &ts,
			Dimensions: []cwtypes.Dimension{
				{Name: awsString("Scope"), Value: awsString(p.scope)},
			},
		})
	}
	if len(data) == 0 {
		return nil
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  awsString(p.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	p.flushed = snapshot
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (p *CloudWatchPublisher) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := p.Flush(context.WithoutCancel(ctx)); err != nil && onError != nil {
				onError(err)
			}
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// metricName turns "already_in_progress" into "AlreadyInProgress".
func metricName(e idempotency.Event) string {
	out := make([]byte, 0, len(e))
	upper := true
	for i := 0; i < len(e); i++ {
		c := e[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

func awsString(s string) *string { return &s }

func awsFloat(f float64) *float64 { return &f }
