package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsEmitter publishes business counters to CloudWatch.
type MetricsEmitter struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

// NewMetricsEmitter returns an emitter writing to namespace.
func NewMetricsEmitter(client CloudWatchAPI, namespace string) *MetricsEmitter {
	return &MetricsEmitter{
		CloudWatch: client,
		Namespace:  namespace,
		nowFunc:    time.Now,
	}
}

// Count records value under name with the given dimensions.
func (m *MetricsEmitter) Count(ctx context.Context, name string, value float64, dimensions map[string]string) error {
	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		if v == "" {
			continue
		}
		dims = append(dims, cwtypes.Dimension{Name: String(k), Value: String(v)})
	}
	ts := m.nowFunc().UTC()
	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: String(m.Namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: String(name),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &ts,
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data %s: %w", name, err)
	}
	return nil
}
