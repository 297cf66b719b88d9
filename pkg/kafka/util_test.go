package kafka

import (
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		want    []string
	}{
		{name: "empty", brokers: "", want: nil},
		{name: "single", brokers: "localhost:9092", want: []string{"localhost:9092"}},
		{name: "spaces", brokers: " kafka-1:9092 , kafka-2:9092", want: []string{"kafka-1:9092", "kafka-2:9092"}},
		{name: "empty entries", brokers: "kafka-1:9092,,", want: []string{"kafka-1:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBrokers(tt.brokers); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseBrokers(%q) = %v, want %v", tt.brokers, got, tt.want)
			}
		})
	}
}

func TestValidateConsumerParams(t *testing.T) {
	tests := []struct {
		name                   string
		brokers, topic, group  string
		wantErr                bool
	}{
		{name: "valid", brokers: "localhost:9092", topic: "security.alerts", group: "security-alerts"},
		{name: "no brokers", brokers: " , ", topic: "security.alerts", group: "g", wantErr: true},
		{name: "no topic", brokers: "localhost:9092", group: "g", wantErr: true},
		{name: "no group", brokers: "localhost:9092", topic: "security.alerts", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConsumerParams(tt.brokers, tt.topic, tt.group)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConsumerParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewReaderConfig(t *testing.T) {
	cfg := NewReaderConfig([]string{"localhost:9092"}, "security.alerts", "security-alerts")

	if cfg.Topic != "security.alerts" || cfg.GroupID != "security-alerts" {
		t.Errorf("topic/group = %s/%s", cfg.Topic, cfg.GroupID)
	}
	if cfg.MaxWait != MaxPollWait {
		t.Errorf("MaxWait = %v, want %v", cfg.MaxWait, MaxPollWait)
	}
	if cfg.CommitInterval != 0 {
		t.Errorf("CommitInterval = %v, want synchronous commits", cfg.CommitInterval)
	}
	if cfg.StartOffset != kafka.FirstOffset {
		t.Errorf("StartOffset = %d, want FirstOffset", cfg.StartOffset)
	}
}
