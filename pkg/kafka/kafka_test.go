package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
)

func TestNewProducerKeysByDeployment(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "artifact.deployed")
	defer p.Close()

	if p.writer.Topic != "artifact.deployed" {
		t.Errorf("Topic = %q, want artifact.deployed", p.writer.Topic)
	}
	if _, ok := p.writer.Balancer.(*kafka.Hash); !ok {
		t.Errorf("Balancer = %T, want key hashing", p.writer.Balancer)
	}
	if p.writer.RequiredAcks != kafka.RequireAll {
		t.Errorf("RequiredAcks = %v, want RequireAll", p.writer.RequiredAcks)
	}
	if p.writer.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want 1", p.writer.BatchSize)
	}
}

func TestDecodeJSON(t *testing.T) {
	type announcement struct {
		Prefix string `json:"prefix"`
		Terms  int    `json:"terms"`
	}
	tests := []struct {
		name    string
		value   string
		want    announcement
		wantErr bool
	}{
		{"valid", `{"prefix":"site","terms":3}`, announcement{Prefix: "site", Terms: 3}, false},
		{"extra fields", `{"prefix":"site","name":"x"}`, announcement{Prefix: "site"}, false},
		{"malformed", `{"prefix":`, announcement{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJSON[announcement]([]byte(tt.value))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("DecodeJSON() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
